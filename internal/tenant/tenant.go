// Package tenant defines the opaque 128-bit identifier that scopes every
// mock blockchain: accounts, blocks, transactions and API keys are all
// keyed by one of these, and no operation may cross from one to another.
package tenant

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is the 128-bit tenant identifier. It doubles as the API-key scope
// (spec.md §6 "Authentication").
type ID uuid.UUID

// New generates a fresh tenant id.
func New() ID {
	return ID(uuid.New())
}

// Parse reads a tenant id from its canonical string form (as it would
// appear in a URL path segment like POST /rpc/{tenant}).
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("tenant: parse id %q: %w", s, err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value, never a valid tenant.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) Value() (driver.Value, error) {
	return uuid.UUID(id).String(), nil
}

func (id *ID) Scan(src interface{}) error {
	var u uuid.UUID
	if err := (*uuid.UUID)(&u).Scan(src); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
