// Package projector turns raw collection snapshots into typed view models.
package projector

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/store"
)

var errEmptyRecord = errors.New("empty record")

type userRecord struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Blocked  bool    `json:"blocked"`
	Budget   float64 `json:"budget"`
	Status   string  `json:"status"`
	Password string  `json:"password"`
}

type companyRecord struct {
	Name string `json:"name"`
}

type transactionRecord struct {
	CompanyID    string  `json:"companyId"`
	UserID       string  `json:"userId"`
	SharesBought float64 `json:"sharesBought"`
	TotalPaid    float64 `json:"totalPaid"`
	Timestamp    float64 `json:"timestamp"`
}

// Skipped names a record that could not be decoded.
type Skipped struct {
	ID  string
	Err error
}

func (s Skipped) Error() string {
	return fmt.Sprintf("record %s: %v", s.ID, s.Err)
}

// Users decodes a users snapshot in key order. Malformed records are
// reported and left out.
func Users(snap store.Snapshot) ([]core.User, []Skipped) {
	out := make([]core.User, 0, snap.Len())
	var skipped []Skipped
	for _, id := range snap.Keys() {
		var rec userRecord
		if err := decode(snap.Records[id], &rec); err != nil {
			skipped = append(skipped, Skipped{ID: id, Err: err})
			continue
		}
		out = append(out, core.User{
			ID:       id,
			Name:     rec.Name,
			Email:    rec.Email,
			Blocked:  rec.Blocked,
			Budget:   rec.Budget,
			Status:   core.Status(rec.Status),
			Password: rec.Password,
		})
	}
	logSkipped(snap.Collection, skipped)
	return out, skipped
}

func Companies(snap store.Snapshot) ([]core.Company, []Skipped) {
	out := make([]core.Company, 0, snap.Len())
	var skipped []Skipped
	for _, id := range snap.Keys() {
		var rec companyRecord
		if err := decode(snap.Records[id], &rec); err != nil {
			skipped = append(skipped, Skipped{ID: id, Err: err})
			continue
		}
		out = append(out, core.Company{ID: id, Name: rec.Name})
	}
	logSkipped(snap.Collection, skipped)
	return out, skipped
}

// Transactions decodes a transactions snapshot. Records with negative
// quantities are treated as malformed.
func Transactions(snap store.Snapshot) ([]core.Transaction, []Skipped) {
	out := make([]core.Transaction, 0, snap.Len())
	var skipped []Skipped
	for _, id := range snap.Keys() {
		var rec transactionRecord
		if err := decode(snap.Records[id], &rec); err != nil {
			skipped = append(skipped, Skipped{ID: id, Err: err})
			continue
		}
		tx := core.Transaction{
			ID:           id,
			CompanyID:    rec.CompanyID,
			UserID:       rec.UserID,
			SharesBought: int64(rec.SharesBought),
			TotalPaid:    rec.TotalPaid,
			Timestamp:    int64(rec.Timestamp),
		}
		if err := tx.Validate(); err != nil {
			skipped = append(skipped, Skipped{ID: id, Err: err})
			continue
		}
		out = append(out, tx)
	}
	logSkipped(snap.Collection, skipped)
	return out, skipped
}

// CompanyNames maps company id to display name.
func CompanyNames(companies []core.Company) map[string]string {
	m := make(map[string]string, len(companies))
	for _, c := range companies {
		m[c.ID] = c.Name
	}
	return m
}

// UserNames maps user id to display name.
func UserNames(users []core.User) map[string]string {
	m := make(map[string]string, len(users))
	for _, u := range users {
		m[u.ID] = u.Name
	}
	return m
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errEmptyRecord
	}
	return json.Unmarshal(raw, v)
}

func logSkipped(collection string, skipped []Skipped) {
	for _, s := range skipped {
		slog.Warn("Skipping malformed record", log.FieldCollection, collection, "id", s.ID, log.FieldError, s.Err)
	}
}
