package auth

import (
	"errors"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/oidc"
)

// Code is the error identifier carried in ?error= query parameters.
type Code string

const (
	CodeConfiguration     Code = "Configuration"
	CodeAccessDenied      Code = "AccessDenied"
	CodeVerification      Code = "Verification"
	CodeCallback          Code = "Callback"
	CodeCredentialsSignin Code = "CredentialsSignin"
	CodeDefault           Code = "Default"
)

// Classify maps an internal error to the code shown to the user. Detail stays in the logs.
func Classify(err error) Code {
	switch {
	case errors.Is(err, oidc.ErrNotConfigured):
		return CodeConfiguration
	case errors.Is(err, account.ErrAccessDenied),
		errors.Is(err, account.ErrAccountDisabled),
		errors.Is(err, oidc.ErrUnverifiedEmail):
		return CodeAccessDenied
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, account.ErrMissingCredentials):
		return CodeCredentialsSignin
	case errors.Is(err, oidc.ErrInvalidState), errors.Is(err, ErrInvalidCSRF):
		return CodeVerification
	default:
		return CodeCallback
	}
}

// pageCode restricts codes to those the error page knows.
func pageCode(s string) Code {
	switch c := Code(s); c {
	case CodeConfiguration, CodeAccessDenied, CodeVerification, CodeCallback:
		return c
	}
	return CodeDefault
}

// errorPageCodes are sent to the error page; the rest go back to sign-in.
func onErrorPage(c Code) bool {
	return c == CodeConfiguration || c == CodeAccessDenied || c == CodeVerification
}
