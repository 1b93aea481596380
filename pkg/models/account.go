package models

// Account is one credential record. Secrets are opaque strings compared
// verbatim; there is no password-change operation.
type Account struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}
