// Package oidc implements the client half of an OIDC authorization code
// flow with PKCE against a Pod identity provider: issuer discovery
// (optionally starting from a WebID document), authorization URL
// construction, code exchange, and token refresh.
//
// Primary types for this package are:
//
//   - IssuerMetadata: the provider configuration discovered from an
//     issuer's well-known endpoint.
//
//   - Request: the ephemeral per-flow values (state, PKCE code verifier and
//     challenge) that must be held by the caller between the two legs of
//     the redirect-based flow.
//
//   - RequestStore: an ephemeral keyed store binding a state to its
//     in-flight Request across the redirect.
//
//   - Flow: builds authorization URLs, exchanges authorization codes for
//     tokens and refreshes access tokens.
//
//   - TokenBundle: the raw token response from the provider's token
//     endpoint.  Token values are redacted when marshaled or printed.
package oidc
