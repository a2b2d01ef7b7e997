// Package connect is the application-facing surface of the Pod link: it
// drives the redirect-based authorization flow end to end (start, finish,
// disconnect) and exposes portable-state operations for a linked user.
// The two legs of the redirect are correlated through an
// oidc.RequestStore keyed by the flow's state value.
package connect
