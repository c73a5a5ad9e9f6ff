// Package auth verifies that inbound webhook calls were signed by the
// messaging provider.
package auth

import (
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

type SignatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// TwilioValidator checks X-Twilio-Signature values against the account auth token.
type TwilioValidator struct {
	validator twilioclient.RequestValidator
}

func NewTwilioValidator(authToken string) *TwilioValidator {
	return &TwilioValidator{validator: twilioclient.NewRequestValidator(strings.TrimSpace(authToken))}
}

func (v *TwilioValidator) Validate(url string, params map[string]string, signature string) bool {
	if strings.TrimSpace(signature) == "" {
		return false
	}
	return v.validator.Validate(url, params, signature)
}

// flattenForm keeps the first value of each field, which is what the
// provider signs for single-valued webhook forms.
func flattenForm(values map[string][]string) map[string]string {
	flat := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) > 0 {
			flat[key] = list[0]
		}
	}
	return flat
}
