package funnel

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// SessionListener observes the current identity. Listeners run
// synchronously relative to the mutation that triggered them: reading the
// store from inside a listener sees the post-mutation value.
type SessionListener func(identity *Identity)

// SessionStore owns the single current Identity for the process. It is
// the only writer path; every consumer (route guard, poller, views) reads
// the same shared reference through Current. Absence of a session is nil,
// never an error.
type SessionStore struct {
	provider   IdentityProvider
	tokens     TokenPersister
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	logger     Logger

	mu        sync.Mutex
	current   *Identity
	loading   bool
	nextID    int
	listeners map[int]SessionListener
	resolved  sync.Once
}

type SessionStoreOption func(*SessionStore)

func WithSessionLogger(logger Logger) SessionStoreOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTokenPersister(tokens TokenPersister) SessionStoreOption {
	return func(s *SessionStore) {
		if tokens != nil {
			s.tokens = tokens
		}
	}
}

func WithSigningKey(key string) SessionStoreOption {
	return func(s *SessionStore) {
		if key != "" {
			s.signingKey = []byte(key)
		}
	}
}

func WithTokenTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// NewSessionStore creates a store in the loading state; callers must run
// Resolve once at startup before trusting Loading.
func NewSessionStore(provider IdentityProvider, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		provider:   provider,
		tokens:     NewMemoryTokenPersister(),
		signingKey: []byte("clkk-funnel-dev-key"),
		issuer:     "clkk.funnel",
		tokenTTL:   24 * time.Hour,
		logger:     defLogger{},
		loading:    true,
		listeners:  map[int]SessionListener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Current returns the shared identity reference, or nil when signed out.
func (s *SessionStore) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Loading reports whether the initial session resolution is still pending.
// Views must not render protected content while this is true.
func (s *SessionStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Subscribe registers a listener for identity changes and returns its
// unsubscribe function.
func (s *SessionStore) Subscribe(fn SessionListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Resolve restores any persisted session. It runs at most once; the store
// leaves the loading state and notifies subscribers whether or not a
// session was found.
func (s *SessionStore) Resolve(ctx context.Context) error {
	var err error
	s.resolved.Do(func() {
		err = s.resolve(ctx)
	})
	return err
}

func (s *SessionStore) resolve(ctx context.Context) error {
	raw, err := s.tokens.Load()
	if err != nil {
		s.logger.Warn("session token load failed", "error", err)
	}

	var identity *Identity
	if raw != "" {
		if identity, err = s.parseSessionToken(raw); err != nil {
			s.logger.Info("discarding invalid persisted session", "error", err)
			identity = nil
			s.clearToken()
		}
	}

	if identity != nil {
		fresh, err := s.provider.Refresh(ctx, identity)
		if err != nil {
			s.logger.Warn("persisted session refresh failed", "error", err)
			identity = nil
			s.clearToken()
		} else {
			identity = fresh
		}
	}

	s.mu.Lock()
	s.current = identity
	s.loading = false
	s.mu.Unlock()

	s.notify()
	return nil
}

// SignUp creates an unverified account with the provider and makes it the
// current identity. Provider failures pass through untranslated; mapping
// to user-facing categories is the signup flow's job.
func (s *SessionStore) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := s.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.replace(identity)
	return identity, nil
}

// SignIn authenticates with the provider and replaces the current identity.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.replace(identity)
	return identity, nil
}

// SignOut clears the current identity. Subscribers observe the nil
// transition synchronously before SignOut returns.
func (s *SessionStore) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "provider sign out failed")
	}

	s.clearToken()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.notify()
	return nil
}

// Refresh re-reads the current identity from the provider and folds the
// result into the shared reference in place, so every holder observes the
// update. The verification flag is monotonic and never reverts.
func (s *SessionStore) Refresh(ctx context.Context) (*Identity, error) {
	current := s.Current()
	if current == nil {
		return nil, nil
	}

	fresh, err := s.provider.Refresh(ctx, current)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "identity refresh failed")
	}

	s.mu.Lock()
	if s.current == nil {
		// signed out while the refresh was in flight
		s.mu.Unlock()
		return nil, nil
	}

	changed := s.current.Email != fresh.Email ||
		(!s.current.EmailVerified && fresh.EmailVerified)

	s.current.Email = fresh.Email
	if fresh.EmailVerified {
		s.current.EmailVerified = true
	}
	identity := s.current
	s.mu.Unlock()

	if changed {
		s.notify()
	}

	return identity, nil
}

// ResendVerification asks the provider to send another verification email
// for the current identity.
func (s *SessionStore) ResendVerification(ctx context.Context) error {
	current := s.Current()
	if current == nil {
		return goerrors.New("no current identity", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	return s.provider.SendVerificationEmail(ctx, current)
}

func (s *SessionStore) replace(identity *Identity) {
	if token, err := s.mintSessionToken(identity); err != nil {
		s.logger.Warn("session token mint failed", "error", err)
	} else if err := s.tokens.Store(token); err != nil {
		s.logger.Warn("session token persist failed", "error", err)
	}

	s.mu.Lock()
	s.current = identity
	s.mu.Unlock()

	s.notify()
}

func (s *SessionStore) clearToken() {
	if err := s.tokens.Clear(); err != nil {
		s.logger.Warn("session token clear failed", "error", err)
	}
}

func (s *SessionStore) notify() {
	s.mu.Lock()
	identity := s.current
	listeners := make([]SessionListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(identity)
	}
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

func (s *SessionStore) mintSessionToken(identity *Identity) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		Email: identity.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}
	return signed, nil
}

func (s *SessionStore) parseSessionToken(raw string) (*Identity, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected signing method", goerrors.CategoryAuth)
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "failed to parse session token")
	}
	if !token.Valid || claims.Subject == "" {
		return nil, goerrors.New("invalid session token", goerrors.CategoryAuth)
	}

	return &Identity{ID: claims.Subject, Email: claims.Email}, nil
}
