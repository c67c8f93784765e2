package domain

import "errors"

var (
	ErrProviderNotConfigured = errors.New("oauth provider not configured")
	ErrInvalidState          = errors.New("oauth state is invalid or expired")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserExists            = errors.New("user already exists")
	ErrUserDisabled          = errors.New("user disabled")
	ErrIdentityNotFound      = errors.New("identity not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrInvalidToken          = errors.New("invalid token")
)
