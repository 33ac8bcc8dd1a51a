package phone

import "strings"

// Normalize converts the phone number formats customers actually type into the
// canonical international form Daraja expects (2547XXXXXXXX, digits only).
//
// Accepted shapes: "0712345678", "712345678", "254712345678", "+254712345678".
// The rules are applied in order: strip a single leading "+", replace a leading
// "0" with "254", prepend "254" to a bare subscriber number starting with "7".
// Anything else passes through untouched — no length or digit validation is
// done here, so malformed input yields malformed output for the gateway to
// reject.
func Normalize(msisdn string) string {
	msisdn = strings.TrimSpace(msisdn)
	msisdn = strings.TrimPrefix(msisdn, "+")

	switch {
	case strings.HasPrefix(msisdn, "0"):
		return "254" + msisdn[1:]
	case strings.HasPrefix(msisdn, "7"):
		return "254" + msisdn
	default:
		return msisdn
	}
}
