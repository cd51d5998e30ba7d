package auth

// RedactedField is the explicit "hidden" marker used in place of financial
// values for under-privileged callers. It replaces the value rather than
// omitting or zeroing it, so callers can distinguish "zero" from "hidden".
type RedactedField struct {
	Redacted bool   `json:"redacted"`
	Reason   string `json:"reason"`
}

const redactionReason = "super_admin role required to view financial values"

// RedactAmount returns the amount for super admins and the redaction marker
// for everyone else.
func RedactAmount(p Principal, amount int64) interface{} {
	if p.IsSuperAdmin() {
		return amount
	}
	return RedactedField{Redacted: true, Reason: redactionReason}
}
