// Package docstore is a keyed document store on top of bun. Writes are
// full replacements per (collection, key) with server-assigned
// timestamps, which is what makes the funnel's provisioning retries safe.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	"github.com/clkk/funnel"
)

// Document is one stored record. CreatedAt survives replacements;
// UpdatedAt always reflects the latest write.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:doc"`
	Collection    string         `bun:"collection,pk" json:"collection"`
	Key           string         `bun:"key,pk" json:"key"`
	Payload       map[string]any `bun:"payload,type:jsonb" json:"payload"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}

type Store struct {
	db     bun.IDB
	now    func() time.Time
	logger funnel.Logger
}

var _ funnel.DocumentStore = (*Store)(nil)

type StoreOption func(*Store)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithLogger(logger funnel.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(db bun.IDB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Upsert full-replaces the record stored under (collection, key). Two
// upserts of the same record differ only by updated_at.
func (s *Store) Upsert(ctx context.Context, collection, key string, record any) error {
	payload, err := toPayload(record)
	if err != nil {
		s.logger.Error("document payload encode failed",
			"collection", collection,
			"key", key,
			"error", err,
		)
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode document payload").
			WithMetadata(map[string]any{"collection": collection, "key": key})
	}

	now := s.now()
	doc := &Document{
		Collection: collection,
		Key:        key,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err = s.db.NewInsert().
		Model(doc).
		On("CONFLICT (collection, key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		s.logger.Error("document upsert failed",
			"collection", collection,
			"key", key,
			"error", err,
		)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to upsert document").
			WithMetadata(map[string]any{"collection": collection, "key": key})
	}

	return nil
}

// Get loads the record stored under (collection, key).
func (s *Store) Get(ctx context.Context, collection, key string) (*Document, error) {
	doc := &Document{}
	err := s.db.NewSelect().
		Model(doc).
		Where("collection = ?", collection).
		Where("doc.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		s.logger.Warn("document lookup failed",
			"collection", collection,
			"key", key,
			"error", err,
		)
		return nil, goerrors.Wrap(err, goerrors.CategoryNotFound, "document not found").
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"collection": collection, "key": key})
	}
	return doc, nil
}

type defLogger struct{}

func (d defLogger) Debug(format string, args ...any) { fmt.Printf("[DBG] DOCSTORE "+format+"\n", args...) }
func (d defLogger) Info(format string, args ...any)  { fmt.Printf("[INF] DOCSTORE "+format+"\n", args...) }
func (d defLogger) Warn(format string, args ...any)  { fmt.Printf("[WRN] DOCSTORE "+format+"\n", args...) }
func (d defLogger) Error(format string, args ...any) { fmt.Printf("[ERR] DOCSTORE "+format+"\n", args...) }

func toPayload(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
