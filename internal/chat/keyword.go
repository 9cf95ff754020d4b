package chat

import (
	"regexp"
	"strings"
)

// The detector is restrictive on purpose: a missed request merely delays a
// callback, a false positive places an unwanted call. Matching is exact
// against a small whitelist or anchored to the start of the trimmed message;
// "call" buried inside a longer sentence never fires.
var exactPhrases = map[string]struct{}{
	"call":      {},
	"call me":   {},
	"call back": {},
	"call now":  {},
	"phone":     {},
	"phone me":  {},
	"ring":      {},
	"ring me":   {},
}

var startPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^please\s+call\b`),
	regexp.MustCompile(`^(can|could)\s+you\s+(please\s+)?call\b`),
	regexp.MustCompile(`^call\s+now\b`),
}

// DetectCallRequest reports whether an inbound chat message is asking for a
// return to voice contact.
func DetectCallRequest(body string) bool {
	msg := strings.ToLower(strings.TrimSpace(body))
	if msg == "" {
		return false
	}
	if _, ok := exactPhrases[msg]; ok {
		return true
	}
	for _, re := range startPatterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}
