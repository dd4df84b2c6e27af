package funnel

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// OnboardingCompleter provisions the derived records for a verified
// identity: the profile document first, then the waitlist entry. Both
// writes are full replacements keyed by the identity id, so running the
// sequence again after a partial failure converges on the same state;
// there is no compensating rollback and no completion ledger.
type OnboardingCompleter struct {
	docs   DocumentStore
	logger Logger
	now    func() time.Time
}

type OnboardingCompleterOption func(*OnboardingCompleter)

func WithCompleterLogger(logger Logger) OnboardingCompleterOption {
	return func(c *OnboardingCompleter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCompleterClock injects a custom clock (useful for tests).
func WithCompleterClock(clock func() time.Time) OnboardingCompleterOption {
	return func(c *OnboardingCompleter) {
		if clock != nil {
			c.now = clock
		}
	}
}

func NewOnboardingCompleter(docs DocumentStore, opts ...OnboardingCompleterOption) *OnboardingCompleter {
	c := &OnboardingCompleter{
		docs:   docs,
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Complete provisions the records for identity. Callers invoke it only
// once EmailVerified has been observed true on a fresh read.
func (c *OnboardingCompleter) Complete(ctx context.Context, identity *Identity) error {
	if identity == nil {
		return goerrors.New("identity is required", goerrors.CategoryBadInput)
	}
	if !identity.EmailVerified {
		return goerrors.New("identity is not verified", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"identity_id": identity.ID})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	profile := NewProfileRecord(identity)
	if err := c.docs.Upsert(ctx, CollectionUsers, identity.ID, profile); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write profile record").
			WithTextCode(textCodeProfileWrite).
			WithCode(goerrors.CodeInternal).
			WithMetadata(map[string]any{"identity_id": identity.ID})
	}

	entry := NewWaitlistEntry(identity, c.now())
	if err := c.docs.Upsert(ctx, CollectionWaitlist, identity.ID, entry); err != nil {
		// The profile record stays in place; the whole sequence is safe
		// to retry because both writes are idempotent.
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write waitlist entry").
			WithTextCode(textCodeWaitlistWrite).
			WithCode(goerrors.CodeInternal).
			WithMetadata(map[string]any{"identity_id": identity.ID})
	}

	c.logger.Info("onboarding complete", "identity_id", identity.ID, "email", identity.Email)
	return nil
}
