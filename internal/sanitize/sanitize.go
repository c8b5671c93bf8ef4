// Package sanitize strips HTML from user-generated text. Role applications
// carry free-text fields (shop descriptions, addresses) that later render in
// admin review screens; bluemonday's strict policy reduces them to plain
// text so stored markup can never execute there.
package sanitize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the singleton bluemonday policy for stripping user-generated
// markup. Initialized once via sync.Once for thread-safe lazy initialization.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared sanitization policy, initializing it on first
// call. StrictPolicy removes every element and attribute -- role application
// text has no legitimate use for markup.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips all HTML from user-provided text and trims surrounding
// whitespace. MUST be called on every free-text field before it is stored.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(getPolicy().Sanitize(input))
}
