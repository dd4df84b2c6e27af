package funnel

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// SignupMessage carries one new-account request through the funnel.
type SignupMessage struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (m SignupMessage) Type() string { return "funnel.signup" }

// Validate runs the local, pre-network rules. The mismatch rule is
// attached to confirm_password, not password, so the error lands next to
// the field the user has to fix.
func (m SignupMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&m,
			validation.Field(
				&m.Email,
				validation.Required,
				is.Email,
			),
			validation.Field(
				&m.Password,
				validation.Required,
				validation.Length(6, 100),
			),
			validation.Field(
				&m.ConfirmPassword,
				validation.Required,
				validation.By(ValidateStringEquals(m.Password)),
			),
		)
	}, "Invalid signup payload")
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("passwords don't match")
		}
		return nil
	}
}

// SignupHandler validates a signup request and submits it to the identity
// provider through the session store. Validation failures never reach the
// provider; provider failures come back mapped to the closed error set.
type SignupHandler struct {
	sessions *SessionStore
	logger   Logger
}

func NewSignupHandler(sessions *SessionStore, opts ...SignupHandlerOption) *SignupHandler {
	h := &SignupHandler{
		sessions: sessions,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type SignupHandlerOption func(*SignupHandler)

func WithSignupLogger(logger Logger) SignupHandlerOption {
	return func(h *SignupHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func (h *SignupHandler) Execute(ctx context.Context, event SignupMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during signup")
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignupHandler) execute(ctx context.Context, event SignupMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	// Account creation also triggers the provider-side verification
	// email; the new identity is unverified by construction.
	if _, err := h.sessions.SignUp(ctx, event.Email, event.Password); err != nil {
		mapped := MapProviderError(err)
		if mapped.TextCode == textCodeAccountCreate {
			h.logger.Error("signup failed with unmapped provider error",
				"email", event.Email,
				"error", err,
			)
		}
		return mapped
	}

	return nil
}
