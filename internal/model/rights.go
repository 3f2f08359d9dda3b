package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateRight reports a service carrying two entries for one RightType.
var ErrDuplicateRight = errors.New("duplicate right type")

// RightType is the permission half of an access right.
type RightType string

const (
	RightAdmin     RightType = "ADMIN"
	RightCreate    RightType = "CREATE"
	RightDelete    RightType = "DELETE"
	RightProvide   RightType = "PROVIDE"
	RightQuery     RightType = "QUERY"
	RightSubscribe RightType = "SUBSCRIBE"
	RightUpdate    RightType = "UPDATE"
)

// RightValue is the privilege half of an access right.
type RightValue string

const (
	Approved  RightValue = "APPROVED"
	Rejected  RightValue = "REJECTED"
	Supported RightValue = "SUPPORTED"
)

// ParseRightType validates a wire value.
func ParseRightType(s string) (RightType, error) {
	switch t := RightType(s); t {
	case RightAdmin, RightCreate, RightDelete, RightProvide, RightQuery, RightSubscribe, RightUpdate:
		return t, nil
	}
	return "", fmt.Errorf("unknown right type %q", s)
}

// ParseRightValue validates a wire value.
func ParseRightValue(s string) (RightValue, error) {
	switch v := RightValue(s); v {
	case Approved, Rejected, Supported:
		return v, nil
	}
	return "", fmt.Errorf("unknown right value %q", s)
}

// Right pairs a permission with a privilege, serialised as
// <right type="QUERY">APPROVED</right>.
type Right struct {
	Type  RightType  `xml:"type,attr" json:"type"`
	Value RightValue `xml:",chardata" json:"value"`
}

// Rights holds at most one entry per RightType.
type Rights []Right

// Get returns the value recorded for t. A missing entry reads as REJECTED.
func (r Rights) Get(t RightType) (RightValue, bool) {
	for _, right := range r {
		if right.Type == t {
			return right.Value, true
		}
	}
	return Rejected, false
}

// Set returns a copy of r with the entry for t replaced or appended.
func (r Rights) Set(t RightType, v RightValue) Rights {
	out := make(Rights, 0, len(r)+1)
	replaced := false
	for _, right := range r {
		if right.Type == t {
			if !replaced {
				out = append(out, Right{Type: t, Value: v})
				replaced = true
			}
			continue
		}
		out = append(out, right)
	}
	if !replaced {
		out = append(out, Right{Type: t, Value: v})
	}
	return out
}

// Normalize collapses duplicate types keeping the first occurrence, the
// entry Get reads.
func (r Rights) Normalize() Rights {
	var out Rights
	for _, right := range r {
		if _, ok := out.Get(right.Type); !ok {
			out = append(out, right)
		}
	}
	return out
}

// Validate rejects more than one entry per RightType.
func (r Rights) Validate() error {
	seen := make(map[RightType]bool, len(r))
	for _, right := range r {
		if seen[right.Type] {
			return fmt.Errorf("%w: %s", ErrDuplicateRight, right.Type)
		}
		seen[right.Type] = true
	}
	return nil
}

// Has reports whether the entry for t equals v exactly. Privilege levels do
// not imply each other.
func (r Rights) Has(t RightType, v RightValue) bool {
	got, ok := r.Get(t)
	return ok && got == v
}
