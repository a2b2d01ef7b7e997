package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrInvalidIssuer      = errors.New("invalid issuer")
	ErrInvalidCACert      = errors.New("invalid CA certificate")
	ErrDiscoveryFailed    = errors.New("discovery failed")
	ErrIDGeneratorFailed  = errors.New("id generation failed")
	ErrExpiredRequest     = errors.New("request is expired")
	ErrNotFound           = errors.New("not found")
	ErrTokenRequestFailed = errors.New("token request failed")
	ErrMissingAccessToken = errors.New("access_token is missing")
	ErrInvalidJWTFormat   = errors.New("invalid JWT format")
	ErrMissingJWKSURI     = errors.New("jwks_uri is missing")
	ErrVerificationFailed = errors.New("id_token verification failed")
)
