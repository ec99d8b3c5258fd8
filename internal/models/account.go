package models

// Account is a validated lottery-site account record. It is built from
// configuration at startup and never mutated afterwards; runtime login and
// purchase state lives in the components that own it.
type Account struct {
	Username string `json:"username"`
	Password string `json:"-"`
	Enabled  bool   `json:"enabled"`
}
