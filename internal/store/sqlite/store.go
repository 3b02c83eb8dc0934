package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/store"

	_ "modernc.org/sqlite"
)

var _ store.Store = (*Store)(nil)

// Options tunes a Store. A nil Notifier keeps change notices in-process.
type Options struct {
	Notifier store.Notifier
}

// Store keeps the three dashboard collections in SQLite and fans out a fresh
// snapshot after every write, local or announced by a Notifier.
type Store struct {
	db       *sql.DB
	fanout   *store.Fanout
	notifier store.Notifier

	mu       sync.Mutex
	versions map[string]uint64
}

func New(dbPath string, opts Options) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:       db,
		fanout:   store.NewFanout(),
		notifier: opts.Notifier,
		versions: make(map[string]uint64),
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Start listens for change notices from other processes until ctx is done.
// It is a no-op without a Notifier.
func (s *Store) Start(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Listen(ctx, func(collection string) {
		if !store.ValidCollection(collection) {
			slog.WarnContext(ctx, "Ignoring change notice", log.FieldCollection, collection)
			return
		}
		s.refresh(ctx, collection)
	})
}

// Subscribe implements store.Subscriber.
func (s *Store) Subscribe(ctx context.Context, collection string, fn store.SnapshotFunc) (store.Unsubscribe, error) {
	if !store.ValidCollection(collection) {
		return nil, fmt.Errorf("subscribe %q: %w", collection, core.ErrNotFound)
	}
	return s.fanout.Subscribe(collection, fn, func() (store.Snapshot, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.read(ctx, collection)
	})
}

var userColumns = map[string]string{
	core.FieldName:     "name",
	core.FieldEmail:    "email",
	core.FieldBlocked:  "blocked",
	core.FieldStatus:   "status",
	core.FieldPassword: "password",
}

// Update implements store.Updater.
func (s *Store) Update(ctx context.Context, collection, id string, patch core.Patch) error {
	if collection != core.CollectionUsers {
		return fmt.Errorf("update %s: collection is read-only", collection)
	}
	if err := core.ValidateUserPatch(patch); err != nil {
		return err
	}

	fields := patch.Fields()
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		sets = append(sets, userColumns[f]+" = ?")
		if b, ok := patch[f].(bool); ok {
			args = append(args, boolToInt(b))
		} else {
			args = append(args, patch[f])
		}
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, core.ErrNotFound)
	}

	slog.InfoContext(ctx, "User updated in SQLite", log.FieldUserID, id, log.FieldFields, fields)

	s.refresh(ctx, collection)
	s.announce(ctx, collection)
	return nil
}

var importTables = map[string]string{
	core.CollectionUsers:        "users",
	core.CollectionCompanies:    "companies",
	core.CollectionTransactions: "transactions",
}

// Import replaces every collection present in exp with its contents.
// Collections missing from exp are left untouched.
func (s *Store) Import(ctx context.Context, exp store.Export) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for collection, table := range importTables {
		if _, ok := exp[collection]; !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", collection, err)
		}
	}

	for id, rec := range exp[core.CollectionUsers] {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO users (id, name, email, blocked, budget, status, password)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, str(rec["name"]), str(rec["email"]), boolToInt(boolean(rec["blocked"])),
			num(rec["budget"]), str(rec["status"]), str(rec["password"]))
		if err != nil {
			return fmt.Errorf("import user %s: %w", id, err)
		}
	}
	for id, rec := range exp[core.CollectionCompanies] {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO companies (id, name) VALUES (?, ?)`,
			id, str(rec["name"])); err != nil {
			return fmt.Errorf("import company %s: %w", id, err)
		}
	}
	for id, rec := range exp[core.CollectionTransactions] {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO transactions (id, company_id, user_id, shares_bought, total_paid, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, str(rec["companyId"]), str(rec["userId"]), int64(num(rec["sharesBought"])),
			num(rec["totalPaid"]), int64(num(rec["timestamp"])))
		if err != nil {
			return fmt.Errorf("import transaction %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}

	for _, c := range []string{core.CollectionUsers, core.CollectionCompanies, core.CollectionTransactions} {
		s.refresh(ctx, c)
		s.announce(ctx, c)
	}
	return nil
}

// refresh publishes a fresh snapshot. The write it follows has already
// committed, so a failed read is logged rather than returned.
func (s *Store) refresh(ctx context.Context, collection string) {
	if err := s.publish(ctx, collection); err != nil {
		slog.ErrorContext(ctx, "Failed to refresh collection",
			log.FieldCollection, collection, log.FieldError, err)
	}
}

// announce tells other processes sharing the database that collection changed.
func (s *Store) announce(ctx context.Context, collection string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, collection); err != nil {
		slog.WarnContext(ctx, "Failed to announce change",
			log.FieldCollection, collection, log.FieldOperation, log.OpPublish, log.FieldError, err)
	}
}

// publish bumps the collection version and delivers a fresh snapshot.
func (s *Store) publish(ctx context.Context, collection string) error {
	s.mu.Lock()
	s.versions[collection]++
	snap, err := s.read(ctx, collection)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.fanout.Publish(snap)
	return nil
}

// read must be called with s.mu held.
func (s *Store) read(ctx context.Context, collection string) (store.Snapshot, error) {
	snap := store.Snapshot{Collection: collection, Version: s.versions[collection]}

	var (
		records map[string]map[string]any
		err     error
	)
	switch collection {
	case core.CollectionUsers:
		records, err = s.readUsers(ctx)
	case core.CollectionCompanies:
		records, err = s.readCompanies(ctx)
	case core.CollectionTransactions:
		records, err = s.readTransactions(ctx)
	default:
		return store.Snapshot{}, fmt.Errorf("read %q: %w", collection, core.ErrNotFound)
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("read %s: %w", collection, err)
	}
	if len(records) == 0 {
		return snap, nil
	}

	snap.Records = make(map[string]json.RawMessage, len(records))
	for id, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("marshal %s/%s: %w", collection, id, err)
		}
		snap.Records[id] = b
	}
	return snap, nil
}

func (s *Store) readUsers(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, blocked, budget, status, password FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var (
			id, name, email, status, password string
			blocked                           int64
			budget                            float64
		)
		if err := rows.Scan(&id, &name, &email, &blocked, &budget, &status, &password); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"name":     name,
			"email":    email,
			"blocked":  blocked != 0,
			"budget":   budget,
			"status":   status,
			"password": password,
		}
	}
	return out, rows.Err()
}

func (s *Store) readCompanies(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM companies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = map[string]any{"name": name}
	}
	return out, rows.Err()
}

func (s *Store) readTransactions(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, user_id, shares_bought, total_paid, timestamp FROM transactions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var (
			id, companyID, userID string
			shares, ts            int64
			paid                  float64
		)
		if err := rows.Scan(&id, &companyID, &userID, &shares, &paid, &ts); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"companyId":    companyID,
			"userId":       userID,
			"sharesBought": shares,
			"totalPaid":    paid,
			"timestamp":    ts,
		}
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
