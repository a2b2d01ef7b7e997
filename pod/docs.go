// Package pod holds the durable association between an application user and
// their Pod identity (Connection, persisted through a Store), and an
// authenticated HTTP client for Pod resources that transparently refreshes
// expired access tokens and retries exactly once on an authorization
// failure.
package pod
