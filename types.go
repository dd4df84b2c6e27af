package funnel

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(message string, args ...any)
	Info(message string, args ...any)
	Warn(message string, args ...any)
	Error(message string, args ...any)
}

// IdentityProvider is the external identity service the funnel drives.
// Implementations translate their wire-level failures into the closed
// error set in errors.go before returning.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
	SendVerificationEmail(ctx context.Context, identity *Identity) error
	Refresh(ctx context.Context, identity *Identity) (*Identity, error)
}

// DocumentStore is the external keyed record store. Upsert is a
// full-replace write; the store assigns its own timestamps.
type DocumentStore interface {
	Upsert(ctx context.Context, collection, key string, record any) error
}

// TokenPersister keeps the session token across process restarts.
type TokenPersister interface {
	Store(token string) error
	Load() (string, error)
	Clear() error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] FUNNEL "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] FUNNEL "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] FUNNEL "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] FUNNEL "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
