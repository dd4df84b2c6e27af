package funnel

import (
	"context"
	"sync"
	"time"
)

// PollState is the verification poller's lifecycle position.
type PollState string

const (
	// PollStateIdle means there is no current identity to watch.
	PollStateIdle PollState = "idle"
	// PollStateWatching means an unverified identity is being re-checked.
	PollStateWatching PollState = "watching"
	// PollStateVerified is terminal: the flag was observed true.
	PollStateVerified PollState = "verified"
)

// DefaultPollInterval matches the verification page's re-check cadence.
const DefaultPollInterval = 3 * time.Second

// VerificationPoller discovers out-of-band email verification. The click
// happens outside this process (another tab, another device), so the
// poller refreshes the identity on a fixed interval and evaluates the
// freshly-refreshed flag, never a cached one. When verification is
// observed it triggers onboarding completion exactly once per process;
// a failed completion stays retryable on the next tick.
type VerificationPoller struct {
	sessions   *SessionStore
	completer  *OnboardingCompleter
	interval   time.Duration
	logger     Logger
	onVerified func(identity *Identity)
	onError    func(err error)

	mu          sync.Mutex
	state       PollState
	completed   bool
	inFlight    bool
	done        chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
}

type VerificationPollerOption func(*VerificationPoller)

func WithPollInterval(interval time.Duration) VerificationPollerOption {
	return func(p *VerificationPoller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithPollLogger(logger Logger) VerificationPollerOption {
	return func(p *VerificationPoller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// OnVerified runs after a successful completion, e.g. to move the user to
// the protected view.
func OnVerified(fn func(identity *Identity)) VerificationPollerOption {
	return func(p *VerificationPoller) {
		if fn != nil {
			p.onVerified = fn
		}
	}
}

// OnPollError surfaces refresh or completion failures to the owning view.
func OnPollError(fn func(err error)) VerificationPollerOption {
	return func(p *VerificationPoller) {
		if fn != nil {
			p.onError = fn
		}
	}
}

func NewVerificationPoller(sessions *SessionStore, completer *OnboardingCompleter, opts ...VerificationPollerOption) *VerificationPoller {
	p := &VerificationPoller{
		sessions:   sessions,
		completer:  completer,
		interval:   DefaultPollInterval,
		logger:     defLogger{},
		onVerified: func(*Identity) {},
		onError:    func(error) {},
		state:      PollStateIdle,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Start launches the poll loop. Restarting after Stop re-enters Watching
// from the then-current identity; no poll progress is persisted. A logout
// observed through the session store halts the loop immediately.
func (p *VerificationPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return
	}
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	unsubscribe := p.sessions.Subscribe(func(identity *Identity) {
		if identity == nil {
			p.halt()
		}
	})
	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, done)
}

// Stop cancels the pending interval deterministically and waits for any
// in-flight cycle to finish. No refresh calls happen after Stop returns.
func (p *VerificationPoller) Stop() {
	p.halt()
	p.wg.Wait()
}

// State returns the poller's current lifecycle position.
func (p *VerificationPoller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Completed reports whether onboarding completion has succeeded.
func (p *VerificationPoller) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *VerificationPoller) setState(state PollState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *VerificationPoller) halt() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if done != nil {
		close(done)
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (p *VerificationPoller) run(ctx context.Context, done chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *VerificationPoller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight || p.completed {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if p.sessions.Current() == nil {
		p.setState(PollStateIdle)
		return
	}

	// Verified is sticky: a tick retrying a failed completion must not
	// report the machine back in Watching.
	if p.State() != PollStateVerified {
		p.setState(PollStateWatching)
	}

	// The completion trigger derives from this fresh read; a stale
	// cached flag is never evaluated for the transition.
	fresh, err := p.sessions.Refresh(ctx)
	if err != nil {
		p.logger.Warn("verification refresh failed", "error", err)
		p.onError(err)
		return
	}
	if fresh == nil {
		p.setState(PollStateIdle)
		return
	}
	if !fresh.EmailVerified {
		return
	}

	p.setState(PollStateVerified)

	if err := p.completer.Complete(ctx, fresh); err != nil {
		p.logger.Error("onboarding completion failed",
			"identity_id", fresh.ID,
			"error", err,
		)
		p.onError(err)
		return
	}

	p.mu.Lock()
	p.completed = true
	p.mu.Unlock()

	p.onVerified(fresh)
	p.halt()
}
