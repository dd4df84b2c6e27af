// Package local is a bun-backed identity provider: accounts with bcrypt
// password hashes and single-use emailed verification tokens. It exists
// so the funnel can run without an external identity service; everything
// it returns crosses the boundary as the funnel's closed error set.
package local

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/clkk/funnel"
)

type Logger = funnel.Logger

// MinPasswordLength mirrors the funnel's local validation; the provider
// enforces it again so direct API callers get the same contract.
const MinPasswordLength = 6

type Provider struct {
	repo    RepositoryManager
	mailer  Mailer
	baseURL string
	logger  Logger
	now     func() time.Time
}

var _ funnel.IdentityProvider = (*Provider)(nil)

type ProviderOption func(*Provider)

func WithMailer(mailer Mailer) ProviderOption {
	return func(p *Provider) {
		if mailer != nil {
			p.mailer = mailer
		}
	}
}

// WithBaseURL sets the public URL prefix used to build verification links.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

func WithLogger(logger Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ProviderOption {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

func New(repo RepositoryManager, opts ...ProviderOption) *Provider {
	p := &Provider{
		repo:    repo,
		baseURL: "http://localhost:8080",
		logger:  defLogger{},
		now:     time.Now,
	}
	p.mailer = logMailer{logger: p.logger}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// CreateAccount registers a new, unverified account and sends the
// verification email. The account id is derived from the email, so the
// same address always maps to the same id.
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*funnel.Identity, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, funnel.ErrInvalidEmail.WithMetadata(map[string]any{"email": email})
	}

	if len(password) < MinPasswordLength {
		return nil, funnel.ErrWeakPassword
	}

	account := &Account{}

	err := p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := p.repo.Accounts().GetByIdentifierTx(ctx, tx, email)
		if err != nil && !goerrors.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing account")
		}
		if existing != nil {
			return funnel.ErrEmailInUse.WithMetadata(map[string]any{"email": email})
		}

		hash, err := funnel.HashPassword(password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		account.Email = email
		account.PasswordHash = hash
		if id, err := hashid.NewUUID(email); err == nil {
			account.ID = id
		} else {
			account.ID = uuid.New()
		}

		if account, err = p.repo.Accounts().CreateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account creation transaction failed")
	}

	identity := account.Identity()

	// Verification delivery failures are not fatal: the account exists
	// and the verify-email view offers a resend.
	if err := p.SendVerificationEmail(ctx, identity); err != nil {
		p.logger.Warn("verification email send failed", "email", email, "error", err)
	}

	return identity, nil
}

// SignIn authenticates an email/password pair. Unknown emails and bad
// passwords collapse into the same credentials error.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*funnel.Identity, error) {
	account, err := p.repo.Accounts().GetByIdentifier(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, funnel.ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}

	if err := funnel.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		return nil, funnel.ErrInvalidCredentials
	}

	return account.Identity(), nil
}

// SignOut is a no-op server side; the session token lives with the
// session store, not the provider.
func (p *Provider) SignOut(ctx context.Context) error {
	return nil
}

// Refresh re-reads the account so callers observe verification performed
// out-of-band.
func (p *Provider) Refresh(ctx context.Context, identity *funnel.Identity) (*funnel.Identity, error) {
	if identity == nil {
		return nil, goerrors.New("identity is required", goerrors.CategoryBadInput)
	}

	account, err := p.repo.Accounts().GetByID(ctx, identity.ID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, goerrors.New("account not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithMetadata(map[string]any{"identity_id": identity.ID})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to refresh account")
	}

	return account.Identity(), nil
}

// SendVerificationEmail mints a fresh single-use token and mails the link.
func (p *Provider) SendVerificationEmail(ctx context.Context, identity *funnel.Identity) error {
	if identity == nil {
		return goerrors.New("identity is required", goerrors.CategoryBadInput)
	}

	accountID, err := uuid.Parse(identity.ID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid identity id")
	}

	token := &VerificationToken{
		ID:        uuid.New(),
		AccountID: accountID,
		Email:     identity.Email,
	}

	if _, err := p.repo.VerificationTokens().Create(ctx, token); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification token")
	}

	link := fmt.Sprintf("%s/verify/%s", p.baseURL, token.ID)
	body := fmt.Sprintf("Please verify your email to continue: %s", link)

	return p.mailer.Send(ctx, identity.Email, "Verify your CLKK email", body)
}

// Verify consumes an emailed token and flips the account's verification
// flag. The flag is monotonic: verifying an already-verified account is a
// harmless no-op.
func (p *Provider) Verify(ctx context.Context, tokenID string) (*funnel.Identity, error) {
	account := &Account{}

	err := p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := p.repo.VerificationTokens().GetByIDTx(ctx, tx, tokenID)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return goerrors.New("verification token not found", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve verification token")
		}

		if token.UsedAt != nil {
			return goerrors.New("verification token already used", goerrors.CategoryConflict).
				WithCode(goerrors.CodeConflict)
		}

		if token.CreatedAt != nil {
			expired, err := funnel.IsOutsideThresholdPeriod(*token.CreatedAt, TokenThreshold)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
			}
			if expired {
				return goerrors.New("verification token expired", goerrors.CategoryOperation).
					WithCode(goerrors.CodeBadRequest)
			}
		}

		if account, err = p.repo.Accounts().GetByIDTx(ctx, tx, token.AccountID.String()); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for token")
		}

		now := p.now()
		if !account.EmailVerified {
			account.EmailVerified = true
			account.VerifiedAt = &now
			if account, err = p.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark account verified")
			}
		}

		token.UsedAt = &now
		if _, err := p.repo.VerificationTokens().UpdateTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark token used")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "verification transaction failed")
	}

	return account.Identity(), nil
}

type defLogger struct{}

func (d defLogger) Debug(format string, args ...any) { fmt.Printf("[DBG] LOCAL "+format+"\n", args...) }
func (d defLogger) Info(format string, args ...any)  { fmt.Printf("[INF] LOCAL "+format+"\n", args...) }
func (d defLogger) Warn(format string, args ...any)  { fmt.Printf("[WRN] LOCAL "+format+"\n", args...) }
func (d defLogger) Error(format string, args ...any) { fmt.Printf("[ERR] LOCAL "+format+"\n", args...) }
