package funnel

import (
	"context"
	"fmt"
	"sync"
)

// stubProvider implements IdentityProvider in memory. Verification state
// lives in the verified map so tests can flip it out-of-band, the way the
// emailed link would.
type stubProvider struct {
	mu       sync.Mutex
	accounts map[string]*Identity
	verified map[string]bool

	createErr  error
	signInErr  error
	refreshErr error
	sendErr    error

	createCalls  int
	signInCalls  int
	signOutCalls int
	refreshCalls int
	sendCalls    int
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		accounts: map[string]*Identity{},
		verified: map[string]bool{},
	}
}

func (p *stubProvider) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}

	identity := &Identity{ID: "acc-" + email, Email: email}
	p.accounts[email] = identity
	return &Identity{ID: identity.ID, Email: identity.Email}, nil
}

func (p *stubProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.signInCalls++
	if p.signInErr != nil {
		return nil, p.signInErr
	}

	account, ok := p.accounts[email]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &Identity{ID: account.ID, Email: account.Email, EmailVerified: p.verified[account.ID]}, nil
}

func (p *stubProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutCalls++
	return nil
}

func (p *stubProvider) SendVerificationEmail(ctx context.Context, identity *Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendCalls++
	return p.sendErr
}

func (p *stubProvider) Refresh(ctx context.Context, identity *Identity) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}

	email := identity.Email
	for _, account := range p.accounts {
		if account.ID == identity.ID {
			email = account.Email
		}
	}

	return &Identity{ID: identity.ID, Email: email, EmailVerified: p.verified[identity.ID]}, nil
}

func (p *stubProvider) markVerified(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified[id] = true
}

func (p *stubProvider) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

var _ IdentityProvider = (*stubProvider)(nil)

type upsertCall struct {
	collection string
	key        string
	record     any
}

// stubDocStore records upserts and keeps the latest record per key.
type stubDocStore struct {
	mu     sync.Mutex
	calls  []upsertCall
	docs   map[string]any
	failOn map[string]error
}

func newStubDocStore() *stubDocStore {
	return &stubDocStore{
		docs:   map[string]any{},
		failOn: map[string]error{},
	}
}

func (s *stubDocStore) Upsert(ctx context.Context, collection, key string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, upsertCall{collection: collection, key: key, record: record})
	if err := s.failOn[collection]; err != nil {
		return err
	}

	s.docs[collection+"/"+key] = record
	return nil
}

func (s *stubDocStore) setFailure(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, collection)
		return
	}
	s.failOn[collection] = err
}

func (s *stubDocStore) get(collection, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.docs[collection+"/"+key]
	return record, ok
}

func (s *stubDocStore) callCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, call := range s.calls {
		if call.collection == collection {
			count++
		}
	}
	return count
}

var _ DocumentStore = (*stubDocStore)(nil)

// captureLogger collects formatted log lines for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) log(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, message, args))
}

func (l *captureLogger) Debug(message string, args ...any) { l.log("DBG", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.log("INF", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.log("WRN", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.log("ERR", message, args...) }

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

var _ Logger = (*captureLogger)(nil)
