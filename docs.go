// podlink provides a collection of related packages for linking an
// application user to their decentralized-storage account ("Pod"):
// OIDC issuer discovery with PKCE-based authorization (oidc), authenticated
// encryption of stored credentials (envelope), an authenticated Pod resource
// client (pod), merge-based synchronization of a small portable document set
// (portable), and a service facade tying them together (connect).
//
// Persistence backends for connection records live under store/ and the
// process configuration under config.  cmd/podlink is a small CLI over
// the same pieces.
//
// See README.md
package podlink
