package portable

import (
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// syncOptions is the set of available options for NewSyncer
type syncOptions struct {
	withLedgerEnabled bool
	withLogger        hclog.Logger
}

// syncDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func syncDefaults() syncOptions {
	return syncOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getSyncOpts(opt ...Option) syncOptions {
	opts := syncDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLedgerEnabled switches the activity ledger feature on.  When off,
// Pull skips the ledger resource and AppendEvent fails explicitly.
func WithLedgerEnabled(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*syncOptions); ok {
			o.withLedgerEnabled = enabled
		}
	}
}

// WithSyncLogger provides an optional logger for the syncer.
func WithSyncLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*syncOptions); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}
