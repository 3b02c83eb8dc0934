package core

import (
	"errors"
	"net/mail"
	"strings"
)

// Collection names as exposed by the realtime store.
const (
	CollectionUsers        = "users"
	CollectionCompanies    = "companies"
	CollectionTransactions = "transactions"
)

const (
	StatusUser  Status = "user"
	StatusAdmin Status = "admin"
)

// User field names as stored in /users/{id}.
const (
	FieldName     = "name"
	FieldEmail    = "email"
	FieldBlocked  = "blocked"
	FieldBudget   = "budget"
	FieldStatus   = "status"
	FieldPassword = "password"
)

type (
	Status string

	User struct {
		ID       string
		Name     string
		Email    string
		Blocked  bool
		Budget   float64
		Status   Status
		Password string // write-only, never rendered
	}

	Company struct {
		ID   string
		Name string
	}

	Transaction struct {
		ID           string
		CompanyID    string
		UserID       string
		SharesBought int64
		TotalPaid    float64
		Timestamp    int64 // epoch millis
	}
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid status")
	ErrUnknownField  = errors.New("unknown field")
	ErrEmptyID       = errors.New("empty id")
	ErrEmptyName     = errors.New("empty name")
	ErrInvalidEmail  = errors.New("invalid email")
	ErrNegativeValue = errors.New("negative value")
)

// Toggle returns the opposite status. Anything that is not admin flips to admin.
func (s Status) Toggle() Status {
	if s == StatusAdmin {
		return StatusUser
	}
	return StatusAdmin
}

func (s Status) Validate() error {
	switch s {
	case StatusUser, StatusAdmin:
		return nil
	default:
		return ErrInvalidStatus
	}
}

func (s Status) IsAdmin() bool {
	return s == StatusAdmin
}

// Validate checks the editable profile fields.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(u.Name) == "" {
		return ErrEmptyName
	}
	if len(u.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if u.Email != "" {
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return ErrInvalidEmail
		}
	}
	return u.Status.Validate()
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if t.SharesBought < 0 || t.TotalPaid < 0 {
		return ErrNegativeValue
	}
	return nil
}
