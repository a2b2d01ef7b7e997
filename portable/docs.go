// Package portable synchronizes a user's portable document set (profile,
// preferences, optional append-only activity ledger) between the
// application and the user's Pod.  Documents live at well-known locations
// derived from the WebID's origin; pushes are merge-based so a partial
// update never clobbers fields the caller did not send.
package portable
