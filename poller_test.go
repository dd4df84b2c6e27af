package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 5 * time.Millisecond

type pollFixture struct {
	provider  *stubProvider
	store     *SessionStore
	docs      *stubDocStore
	completer *OnboardingCompleter
	identity  *Identity
}

func newPollFixture(t *testing.T) *pollFixture {
	t.Helper()

	provider := newStubProvider()
	store := NewSessionStore(provider)

	identity, err := store.SignUp(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)

	docs := newStubDocStore()
	return &pollFixture{
		provider:  provider,
		store:     store,
		docs:      docs,
		completer: NewOnboardingCompleter(docs),
		identity:  identity,
	}
}

func TestPollerCompletesExactlyOnce(t *testing.T) {
	f := newPollFixture(t)
	f.provider.markVerified(f.identity.ID)

	verified := make(chan *Identity, 1)
	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
		OnVerified(func(identity *Identity) { verified <- identity }),
	)

	poller.Start(context.Background())
	defer poller.Stop()

	select {
	case identity := <-verified:
		assert.Equal(t, f.identity.ID, identity.ID)
		assert.True(t, identity.EmailVerified)
	case <-time.After(2 * time.Second):
		t.Fatal("verification never observed")
	}

	assert.True(t, poller.Completed())
	assert.Equal(t, PollStateVerified, poller.State())
	assert.Equal(t, 1, f.docs.callCount(CollectionUsers))
	assert.Equal(t, 1, f.docs.callCount(CollectionWaitlist))

	// the loop halted itself: no further refreshes, no second completion
	refreshes := f.provider.refreshCount()
	time.Sleep(5 * testPollInterval)
	assert.Equal(t, refreshes, f.provider.refreshCount())
	assert.Equal(t, 1, f.docs.callCount(CollectionUsers))
}

func TestPollerWatchesWhileUnverified(t *testing.T) {
	f := newPollFixture(t)

	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
	)

	poller.Start(context.Background())
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return f.provider.refreshCount() >= 2
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, PollStateWatching, poller.State())
	assert.False(t, poller.Completed())
	assert.Empty(t, f.docs.calls)
}

func TestPollerHaltsOnSignOut(t *testing.T) {
	f := newPollFixture(t)

	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
	)

	poller.Start(context.Background())

	require.Eventually(t, func() bool {
		return f.provider.refreshCount() >= 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, f.store.SignOut(context.Background()))
	poller.Stop()

	refreshes := f.provider.refreshCount()
	time.Sleep(5 * testPollInterval)
	assert.Equal(t, refreshes, f.provider.refreshCount())
	assert.False(t, poller.Completed())
}

func TestPollerStopIsDeterministic(t *testing.T) {
	f := newPollFixture(t)

	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
	)

	poller.Start(context.Background())

	require.Eventually(t, func() bool {
		return f.provider.refreshCount() >= 1
	}, 2*time.Second, time.Millisecond)

	poller.Stop()
	poller.Stop()

	refreshes := f.provider.refreshCount()
	time.Sleep(5 * testPollInterval)
	assert.Equal(t, refreshes, f.provider.refreshCount(), "no refresh after Stop returns")
}

func TestPollerRestartsAfterStop(t *testing.T) {
	f := newPollFixture(t)

	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
	)

	poller.Start(context.Background())
	require.Eventually(t, func() bool {
		return f.provider.refreshCount() >= 1
	}, 2*time.Second, time.Millisecond)
	poller.Stop()

	refreshes := f.provider.refreshCount()

	poller.Start(context.Background())
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return f.provider.refreshCount() > refreshes
	}, 2*time.Second, time.Millisecond)
}

func TestPollerRetriesFailedCompletion(t *testing.T) {
	f := newPollFixture(t)
	f.provider.markVerified(f.identity.ID)
	f.docs.setFailure(CollectionWaitlist, errors.New("store unavailable"))

	pollErrs := make(chan error, 8)
	verified := make(chan *Identity, 1)
	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
		WithPollLogger(&captureLogger{}),
		OnVerified(func(identity *Identity) { verified <- identity }),
		OnPollError(func(err error) { pollErrs <- err }),
	)

	poller.Start(context.Background())
	defer poller.Stop()

	select {
	case err := <-pollErrs:
		assert.True(t, IsProvisioningError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("completion failure never surfaced")
	}
	assert.False(t, poller.Completed())

	f.docs.setFailure(CollectionWaitlist, nil)

	select {
	case <-verified:
	case <-time.After(2 * time.Second):
		t.Fatal("completion never retried")
	}

	assert.True(t, poller.Completed())
	_, ok := f.docs.get(CollectionWaitlist, f.identity.ID)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, f.docs.callCount(CollectionUsers), 2, "the whole sequence reruns on retry")
}

func TestPollerStaysVerifiedWhileRetrying(t *testing.T) {
	f := newPollFixture(t)
	f.provider.markVerified(f.identity.ID)
	f.docs.setFailure(CollectionWaitlist, errors.New("store unavailable"))

	pollErrs := make(chan error, 8)
	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
		WithPollLogger(&captureLogger{}),
		OnPollError(func(err error) { pollErrs <- err }),
	)

	poller.Start(context.Background())
	defer poller.Stop()

	// Verified is terminal even while completion keeps failing: each
	// retry tick reports Verified, never a regression to Watching.
	for i := 0; i < 2; i++ {
		select {
		case <-pollErrs:
		case <-time.After(2 * time.Second):
			t.Fatal("completion failure never surfaced")
		}
		assert.Equal(t, PollStateVerified, poller.State())
	}
	assert.False(t, poller.Completed())
}

func TestPollerIdleWithoutSession(t *testing.T) {
	provider := newStubProvider()
	store := NewSessionStore(provider)
	docs := newStubDocStore()

	poller := NewVerificationPoller(store, NewOnboardingCompleter(docs),
		WithPollInterval(testPollInterval),
	)

	poller.Start(context.Background())
	defer poller.Stop()

	time.Sleep(5 * testPollInterval)

	assert.Equal(t, PollStateIdle, poller.State())
	assert.Equal(t, 0, provider.refreshCount())
	assert.Empty(t, docs.calls)
}

func TestPollerContextCancelStopsLoop(t *testing.T) {
	f := newPollFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	poller := NewVerificationPoller(f.store, f.completer,
		WithPollInterval(testPollInterval),
	)

	poller.Start(ctx)

	require.Eventually(t, func() bool {
		return f.provider.refreshCount() >= 1
	}, 2*time.Second, time.Millisecond)

	cancel()
	time.Sleep(3 * testPollInterval)

	refreshes := f.provider.refreshCount()
	time.Sleep(5 * testPollInterval)
	assert.Equal(t, refreshes, f.provider.refreshCount())

	poller.Stop()
}
