package twilio

import (
	"errors"
	"fmt"
	"net/http"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// classify wraps carrier failures, tagging retry-worthy ones with
// domain.ErrTransient. Twilio 4xx responses mean the request itself is bad
// and will not improve on retry; everything else might.
func classify(op string, err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status == http.StatusTooManyRequests || restErr.Status >= 500 {
			return fmt.Errorf("twilio: %s: %w: %w", op, domain.ErrTransient, err)
		}
		return fmt.Errorf("twilio: %s: %w", op, err)
	}
	return fmt.Errorf("twilio: %s: %w: %w", op, domain.ErrTransient, err)
}
