package oidc

import "time"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithNow provides an optional func to determine what the current time is for
// a Request's expiration.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional expiry skew duration when checking a
// Request's expiration.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withExpirySkew = d
		}
	}
}
