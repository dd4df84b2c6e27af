package funnel

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeEmailInUse          = "EMAIL_IN_USE"
	textCodeInvalidEmail        = "INVALID_EMAIL"
	textCodeOperationNotAllowed = "OPERATION_NOT_ALLOWED"
	textCodeWeakPassword        = "WEAK_PASSWORD"
	textCodeAccountCreate       = "ACCOUNT_CREATE_FAILED"
	textCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	textCodeProfileWrite        = "PROFILE_WRITE_FAILED"
	textCodeWaitlistWrite       = "WAITLIST_WRITE_FAILED"
)

// Provider errors: the closed set every IdentityProvider implementation
// translates into at the boundary. Upstream logic matches on these, never
// on provider-specific strings.
var (
	// ErrEmailInUse is returned when the email already has an account.
	ErrEmailInUse = goerrors.New("email is already registered", goerrors.CategoryConflict).
			WithTextCode(textCodeEmailInUse).
			WithCode(goerrors.CodeConflict)

	// ErrInvalidEmail is returned when the provider rejects the address.
	ErrInvalidEmail = goerrors.New("invalid email address", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidEmail).
			WithCode(goerrors.CodeBadRequest)

	// ErrOperationNotAllowed is returned when password accounts are disabled.
	ErrOperationNotAllowed = goerrors.New("email/password accounts are not enabled", goerrors.CategoryOperation).
				WithTextCode(textCodeOperationNotAllowed).
				WithCode(goerrors.CodeBadRequest)

	// ErrWeakPassword is returned when the provider rejects the password.
	ErrWeakPassword = goerrors.New("password is too weak", goerrors.CategoryValidation).
			WithTextCode(textCodeWeakPassword).
			WithCode(goerrors.CodeBadRequest)

	// ErrInvalidCredentials is returned on sign-in with a bad email/password pair.
	ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
				WithTextCode(textCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)
)

// Provisioning errors raised by the onboarding completer.
var (
	ErrProfileWriteFailed = goerrors.New("failed to write profile record", goerrors.CategoryInternal).
				WithTextCode(textCodeProfileWrite).
				WithCode(goerrors.CodeInternal)

	ErrWaitlistWriteFailed = goerrors.New("failed to write waitlist entry", goerrors.CategoryInternal).
				WithTextCode(textCodeWaitlistWrite).
				WithCode(goerrors.CodeInternal)
)

// knownProviderCodes is the set of codes with a dedicated user-facing
// message; anything else falls back to the generic account failure.
var knownProviderCodes = map[string]string{
	textCodeEmailInUse:          "This email is already registered.",
	textCodeInvalidEmail:        "Invalid email address.",
	textCodeOperationNotAllowed: "Email/password accounts are not enabled. Please contact support.",
	textCodeWeakPassword:        "Password is too weak. Please use a stronger password.",
}

const genericAccountFailure = "Failed to create an account."

// genericRegistrationFailure covers both provisioning write failures.
const genericRegistrationFailure = "Failed to complete registration. Please try again."

// MapProviderError normalizes an identity provider failure. Known codes
// pass through unchanged; anything else becomes a generic account-create
// failure that keeps the raw error in metadata for diagnostics.
func MapProviderError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if _, known := knownProviderCodes[richErr.TextCode]; known {
			return richErr
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create account").
		WithTextCode(textCodeAccountCreate).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"provider_error": err.Error()})
}

// UserMessage resolves the copy shown to the user for a mapped error.
// Raw provider codes never reach the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return genericAccountFailure
	}

	if msg, ok := knownProviderCodes[richErr.TextCode]; ok {
		return msg
	}

	switch richErr.TextCode {
	case textCodeProfileWrite, textCodeWaitlistWrite:
		return genericRegistrationFailure
	case textCodeInvalidCredentials:
		return "Invalid email or password."
	}

	return genericAccountFailure
}

// IsProvisioningError reports whether err came from the onboarding completer.
func IsProvisioningError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCodeProfileWrite || richErr.TextCode == textCodeWaitlistWrite
}
