// Package rtdb keeps the dashboard collections in a Firebase Realtime
// Database. Reads and writes go through the Firebase Admin SDK; change
// notifications come from the database's event stream.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/store"
)

var _ store.Store = (*Client)(nil)

const (
	scopeDatabase = "https://www.googleapis.com/auth/firebase.database"
	scopeEmail    = "https://www.googleapis.com/auth/userinfo.email"

	// emulatorToken is the admin token the database emulator accepts.
	emulatorToken = "owner"
)

// Database is the part of the Firebase database client the store uses.
type Database interface {
	Get(ctx context.Context, path string, v any) error
	Update(ctx context.Context, path string, values map[string]any) error
}

type firebaseDB struct {
	client *db.Client
}

func (f firebaseDB) Get(ctx context.Context, path string, v any) error {
	return f.client.NewRef(path).Get(ctx, v)
}

func (f firebaseDB) Update(ctx context.Context, path string, values map[string]any) error {
	return f.client.NewRef(path).Update(ctx, values)
}

type Config struct {
	// BaseURL is the database root, e.g. https://project-default-rtdb.firebaseio.com
	// or http://localhost:9000?ns=project for the emulator.
	BaseURL string
	// CredentialsFile is a service account key. Empty means emulator access.
	CredentialsFile string
	// Database overrides the Firebase client built from BaseURL.
	Database Database
	// HTTPClient overrides the client used for the event stream.
	HTTPClient *http.Client
}

type Client struct {
	base   *url.URL
	db     Database
	http   *http.Client
	fanout *store.Fanout

	// collections guards each collection's version and read.
	collections map[string]*collectionState

	mu       sync.Mutex
	watching map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type collectionState struct {
	mu      sync.Mutex
	version uint64
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("missing realtime database url")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse realtime database url: %w", err)
	}

	database := cfg.Database
	if database == nil {
		app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: raw}, clientOptions(ctx, cfg.CredentialsFile)...)
		if err != nil {
			return nil, fmt.Errorf("create firebase app: %w", err)
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("create database client: %w", err)
		}
		database = firebaseDB{client: client}
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc, err = newStreamClient(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
	}

	collections := make(map[string]*collectionState)
	for _, c := range []string{core.CollectionUsers, core.CollectionCompanies, core.CollectionTransactions} {
		collections[c] = &collectionState{}
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Client{
		base:        base,
		db:          database,
		http:        hc,
		fanout:      store.NewFanout(),
		collections: collections,
		watching:    make(map[string]bool),
		ctx:         cctx,
		cancel:      cancel,
	}, nil
}

func clientOptions(ctx context.Context, credentialsFile string) []goption.ClientOption {
	if credentialsFile == "" {
		slog.InfoContext(ctx, "Using realtime database emulator credentials")
		return []goption.ClientOption{
			goption.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: emulatorToken})),
		}
	}
	slog.InfoContext(ctx, "Realtime database client authenticated", "credentials_file", credentialsFile)
	return []goption.ClientOption{goption.WithCredentialsFile(credentialsFile)}
}

// newStreamClient builds the HTTP client for the event stream, which the
// Admin SDK does not expose.
func newStreamClient(ctx context.Context, credentialsFile string) (*http.Client, error) {
	if credentialsFile == "" {
		return &http.Client{}, nil
	}
	hc, _, err := htransport.NewClient(ctx,
		goption.WithCredentialsFile(credentialsFile),
		goption.WithScopes(scopeDatabase, scopeEmail))
	if err != nil {
		return nil, fmt.Errorf("create authenticated stream client: %w", err)
	}
	return hc, nil
}

// Subscribe implements store.Subscriber. The first subscriber of a collection
// starts a streaming listener that lives until Close.
func (c *Client) Subscribe(ctx context.Context, collection string, fn store.SnapshotFunc) (store.Unsubscribe, error) {
	state, ok := c.collections[collection]
	if !ok {
		return nil, fmt.Errorf("subscribe %q: %w", collection, core.ErrNotFound)
	}
	unsubscribe, err := c.fanout.Subscribe(collection, fn, func() (store.Snapshot, error) {
		state.mu.Lock()
		defer state.mu.Unlock()
		return c.fetch(ctx, collection, state.version)
	})
	if err != nil {
		return nil, err
	}
	c.watch(collection)
	return unsubscribe, nil
}

// Update implements store.Updater. Missing records are reported instead of
// being created by the update.
func (c *Client) Update(ctx context.Context, collection, id string, patch core.Patch) error {
	if collection != core.CollectionUsers {
		return fmt.Errorf("update %s: collection is read-only", collection)
	}
	if err := core.ValidateUserPatch(patch); err != nil {
		return err
	}

	path := collection + "/" + id
	var existing json.RawMessage
	if err := c.db.Get(ctx, path, &existing); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if isNull(existing) {
		return fmt.Errorf("update %s/%s: %w", collection, id, core.ErrNotFound)
	}

	if err := c.db.Update(ctx, path, map[string]any(patch)); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	// The write has committed; a failed re-read is left to the stream.
	if err := c.refresh(ctx, collection); err != nil {
		slog.WarnContext(ctx, "Failed to refresh collection after update",
			log.FieldCollection, collection, log.FieldError, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// refresh re-reads a collection and fans it out with a new version. Reads of
// one collection are serialized so versions follow read order.
func (c *Client) refresh(ctx context.Context, collection string) error {
	state, ok := c.collections[collection]
	if !ok {
		return fmt.Errorf("refresh %q: %w", collection, core.ErrNotFound)
	}
	state.mu.Lock()
	state.version++
	snap, err := c.fetch(ctx, collection, state.version)
	state.mu.Unlock()
	if err != nil {
		return err
	}
	c.fanout.Publish(snap)
	return nil
}

func (c *Client) fetch(ctx context.Context, collection string, version uint64) (store.Snapshot, error) {
	var records map[string]json.RawMessage
	if err := c.db.Get(ctx, collection, &records); err != nil {
		return store.Snapshot{}, fmt.Errorf("read %s: %w", collection, err)
	}
	if len(records) == 0 {
		records = nil
	}
	return store.Snapshot{Collection: collection, Version: version, Records: records}, nil
}

// streamURL returns the REST location of collection, keeping the base query
// so the emulator namespace survives.
func (c *Client) streamURL(collection string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + collection + ".json"
	return u.String()
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
