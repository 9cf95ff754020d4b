package domain

import "errors"

// ErrTransient marks a carrier failure worth retrying. Adapters wrap
// timeouts, 5xx responses, and rate-limit rejections with it; anything else
// is terminal.
var ErrTransient = errors.New("transient carrier error")
