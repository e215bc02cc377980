// Package scope identifies the billing unit an event or quota applies to.
//
// A Scope is either a personal account (keyed by user id) or an organization
// (keyed by organization id). Exactly one of the two is set for any valid
// value; the zero Scope is invalid and reported as such by Validate.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Type discriminates the two scope kinds
type Type string

const (
	TypePersonal     Type = "personal"
	TypeOrganization Type = "organization"
)

// ErrInvalid is returned when a scope cannot be parsed or validated
var ErrInvalid = errors.New("invalid scope")

// Scope is a personal account or an organization
type Scope struct {
	Type Type   `json:"scope_type"`
	ID   string `json:"scope_id"`
}

// Personal returns the scope of a user's personal account
func Personal(userID string) Scope {
	return Scope{Type: TypePersonal, ID: userID}
}

// Organization returns the scope of an organization
func Organization(orgID string) Scope {
	return Scope{Type: TypeOrganization, ID: orgID}
}

// IsPersonal reports whether the scope is a personal account
func (s Scope) IsPersonal() bool {
	return s.Type == TypePersonal
}

// IsOrganization reports whether the scope is an organization
func (s Scope) IsOrganization() bool {
	return s.Type == TypeOrganization
}

// IsZero reports whether the scope is unset
func (s Scope) IsZero() bool {
	return s.Type == "" && s.ID == ""
}

// Validate checks that the scope has a known type and a non-empty id
func (s Scope) Validate() error {
	switch s.Type {
	case TypePersonal, TypeOrganization:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, s.Type)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalid, s.Type)
	}
	return nil
}

// String renders the scope as "type:id"
func (s Scope) String() string {
	return string(s.Type) + ":" + s.ID
}

// ParseType parses a scope type name
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypePersonal, TypeOrganization:
		return t, nil
	case "user":
		return TypePersonal, nil
	case "org":
		return TypeOrganization, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalid, raw)
	}
}

// New builds and validates a scope from its raw parts
func New(rawType, id string) (Scope, error) {
	t, err := ParseType(rawType)
	if err != nil {
		return Scope{}, err
	}
	s := Scope{Type: t, ID: strings.TrimSpace(id)}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}
