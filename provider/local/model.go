package local

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/clkk/funnel"
)

// Account is the provider-side account record. The funnel only ever sees
// the Identity projection; password hashes and tokens stay here.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"password_hash,omitempty"`
	EmailVerified bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	VerifiedAt    *time.Time `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Identity projects the account into the funnel's view of it.
func (a *Account) Identity() *funnel.Identity {
	return &funnel.Identity{
		ID:            a.ID.String(),
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
	}
}

// VerificationToken is one emailed verification link. Tokens expire after
// TokenThreshold and are single use.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vtk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull" json:"account_id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// TokenThreshold is how long a verification link stays valid.
var TokenThreshold = "24h"
