package domain

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrClassificationFailure = errors.New("intent classification failed")
	ErrCredentialsMissing    = errors.New("credentials missing")
	ErrCredentialsIncomplete = errors.New("credentials incomplete")
	ErrAuthFailure           = errors.New("token request failed")
	ErrAPIFailure            = errors.New("management api request failed")
	ErrHandlerFailure        = errors.New("intent handler failed")
)
