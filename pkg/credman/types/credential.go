// Package types defines the data structures shared by the credman
// storage and encryption layers.
package types

import "time"

// Standard credential fields hosts ask for. A descriptor may name
// additional fields; these are just the common ones.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldAPIKey   = "api_key"
)

// Credential is one stored secret for a host account. Value is held
// encrypted at rest; the manager decrypts on read.
type Credential struct {
	Host      string
	Field     string
	Value     string
	UpdatedAt time.Time
}

// Key returns the lookup key "<host>.<field>".
func (c *Credential) Key() string {
	return c.Host + "." + c.Field
}
