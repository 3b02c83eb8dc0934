package core

import (
	"fmt"
	"sort"
)

// Patch is a partial update: only the named fields are merged into the
// stored record, everything else is left untouched.
type Patch map[string]any

var writableUserFields = map[string]struct{}{
	FieldName:     {},
	FieldEmail:    {},
	FieldBlocked:  {},
	FieldStatus:   {},
	FieldPassword: {},
}

// BlockedPatch sets only the blocked flag.
func BlockedPatch(blocked bool) Patch {
	return Patch{FieldBlocked: blocked}
}

// StatusPatch sets only the status.
func StatusPatch(s Status) Patch {
	return Patch{FieldStatus: string(s)}
}

// ProfilePatch carries the three fields committed by an edit session.
func ProfilePatch(u User) Patch {
	return Patch{
		FieldName:     u.Name,
		FieldEmail:    u.Email,
		FieldPassword: u.Password,
	}
}

// Fields returns the patched field names in sorted order.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ValidateUserPatch rejects fields that this dashboard never writes and
// values of the wrong type.
func ValidateUserPatch(p Patch) error {
	if len(p) == 0 {
		return fmt.Errorf("empty patch: %w", ErrUnknownField)
	}
	for k, v := range p {
		if _, ok := writableUserFields[k]; !ok {
			return fmt.Errorf("field %q: %w", k, ErrUnknownField)
		}
		switch k {
		case FieldBlocked:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("field %q must be a bool", k)
			}
		case FieldStatus:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("field %q must be a string", k)
			}
			if err := Status(s).Validate(); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
		default:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("field %q must be a string", k)
			}
		}
	}
	return nil
}

// Redacted returns a copy safe for logs and change events.
func (p Patch) Redacted() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		if k == FieldPassword {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}
