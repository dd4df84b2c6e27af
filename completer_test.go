package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifiedIdentity() *Identity {
	return &Identity{ID: "acc-1", Email: "user@example.com", EmailVerified: true}
}

func TestCompleteWritesProfileThenWaitlist(t *testing.T) {
	docs := newStubDocStore()
	verifiedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	completer := NewOnboardingCompleter(docs,
		WithCompleterClock(func() time.Time { return verifiedAt }),
	)

	identity := verifiedIdentity()
	err := completer.Complete(context.Background(), identity)
	require.NoError(t, err)

	require.Len(t, docs.calls, 2)
	assert.Equal(t, CollectionUsers, docs.calls[0].collection)
	assert.Equal(t, CollectionWaitlist, docs.calls[1].collection)
	assert.Equal(t, identity.ID, docs.calls[0].key)
	assert.Equal(t, identity.ID, docs.calls[1].key)

	profile, ok := docs.get(CollectionUsers, identity.ID)
	require.True(t, ok)
	assert.Equal(t, ProfileRecord{
		Email:         "user@example.com",
		UID:           "acc-1",
		EmailVerified: true,
	}, profile)

	entry, ok := docs.get(CollectionWaitlist, identity.ID)
	require.True(t, ok)
	assert.Equal(t, WaitlistEntry{
		Email:      "user@example.com",
		UID:        "acc-1",
		VerifiedAt: verifiedAt,
		Status:     WaitlistStatusVerified,
	}, entry)
}

func TestCompleteIsIdempotent(t *testing.T) {
	docs := newStubDocStore()
	verifiedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	completer := NewOnboardingCompleter(docs,
		WithCompleterClock(func() time.Time { return verifiedAt }),
	)

	identity := verifiedIdentity()
	require.NoError(t, completer.Complete(context.Background(), identity))

	profileBefore, _ := docs.get(CollectionUsers, identity.ID)
	entryBefore, _ := docs.get(CollectionWaitlist, identity.ID)

	require.NoError(t, completer.Complete(context.Background(), identity))

	profileAfter, _ := docs.get(CollectionUsers, identity.ID)
	entryAfter, _ := docs.get(CollectionWaitlist, identity.ID)

	assert.Equal(t, profileBefore, profileAfter)
	assert.Equal(t, entryBefore, entryAfter)
	assert.Len(t, docs.calls, 4)
}

func TestCompleteProfileFailureStopsSequence(t *testing.T) {
	docs := newStubDocStore()
	docs.setFailure(CollectionUsers, errors.New("store unavailable"))
	completer := NewOnboardingCompleter(docs)

	err := completer.Complete(context.Background(), verifiedIdentity())
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "PROFILE_WRITE_FAILED", richErr.TextCode)
	assert.True(t, IsProvisioningError(err))
	assert.Equal(t, "Failed to complete registration. Please try again.", UserMessage(err))

	// the waitlist write never runs when the profile write fails
	assert.Equal(t, 1, docs.callCount(CollectionUsers))
	assert.Equal(t, 0, docs.callCount(CollectionWaitlist))
}

func TestCompleteWaitlistFailureKeepsProfile(t *testing.T) {
	docs := newStubDocStore()
	docs.setFailure(CollectionWaitlist, errors.New("store unavailable"))
	completer := NewOnboardingCompleter(docs)

	identity := verifiedIdentity()
	err := completer.Complete(context.Background(), identity)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "WAITLIST_WRITE_FAILED", richErr.TextCode)

	// no rollback: the profile stays and the retry converges
	_, ok := docs.get(CollectionUsers, identity.ID)
	assert.True(t, ok)
	_, ok = docs.get(CollectionWaitlist, identity.ID)
	assert.False(t, ok)

	docs.setFailure(CollectionWaitlist, nil)
	require.NoError(t, completer.Complete(context.Background(), identity))

	_, ok = docs.get(CollectionWaitlist, identity.ID)
	assert.True(t, ok)
}

func TestCompleteRejectsMissingOrUnverifiedIdentity(t *testing.T) {
	docs := newStubDocStore()
	completer := NewOnboardingCompleter(docs)

	err := completer.Complete(context.Background(), nil)
	require.Error(t, err)

	err = completer.Complete(context.Background(), &Identity{ID: "acc-1", Email: "user@example.com"})
	require.Error(t, err)

	assert.Empty(t, docs.calls)
}

func TestNewProfileRecordAlwaysVerified(t *testing.T) {
	record := NewProfileRecord(&Identity{ID: "acc-1", Email: "user@example.com"})
	assert.True(t, record.EmailVerified)
	assert.Equal(t, "acc-1", record.UID)
}
