package funnel

import "time"

const (
	// CollectionUsers holds one ProfileRecord per verified account.
	CollectionUsers = "users"
	// CollectionWaitlist holds one WaitlistEntry per verified account.
	CollectionWaitlist = "waitinglist"
)

// WaitlistStatusVerified is the only status this flow ever writes.
const WaitlistStatusVerified = "verified"

// Identity is one account as known to the identity provider. ID is a
// stable opaque string; EmailVerified only ever moves false -> true.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// ProfileRecord is the derived account document, keyed by Identity.ID.
// Created/updated timestamps are assigned by the document store.
type ProfileRecord struct {
	Email         string `json:"email"`
	UID           string `json:"uid"`
	EmailVerified bool   `json:"emailVerified"`
}

// WaitlistEntry is the derived waitlist document, keyed by Identity.ID.
type WaitlistEntry struct {
	Email      string    `json:"email"`
	UID        string    `json:"uid"`
	VerifiedAt time.Time `json:"verifiedAt"`
	Status     string    `json:"status"`
}

// NewProfileRecord builds the profile document written once the identity
// is verified. EmailVerified is recorded as true unconditionally: the
// completer only runs after verification has been observed.
func NewProfileRecord(identity *Identity) ProfileRecord {
	return ProfileRecord{
		Email:         identity.Email,
		UID:           identity.ID,
		EmailVerified: true,
	}
}

// NewWaitlistEntry builds the waitlist document for a verified identity.
func NewWaitlistEntry(identity *Identity, verifiedAt time.Time) WaitlistEntry {
	return WaitlistEntry{
		Email:      identity.Email,
		UID:        identity.ID,
		VerifiedAt: verifiedAt,
		Status:     WaitlistStatusVerified,
	}
}
