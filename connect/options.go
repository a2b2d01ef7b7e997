package connect

import (
	"github.com/hashicorp/go-hclog"

	"github.com/podlink/podlink/oidc"
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

// serviceOptions is the set of available options for NewService
type serviceOptions struct {
	withRequestStore  oidc.RequestStore
	withLedgerEnabled bool
	withLogger        hclog.Logger
}

// serviceDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func serviceDefaults() serviceOptions {
	return serviceOptions{
		withRequestStore: oidc.NewMemoryRequestStore(),
		withLogger:       hclog.NewNullLogger(),
	}
}

func getServiceOpts(opt ...Option) serviceOptions {
	opts := serviceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRequestStore provides an alternative store for in-flight
// authorization requests, replacing the in-memory default.  Deployments
// with more than one process need a shared store here.
func WithRequestStore(rs oidc.RequestStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			if rs != nil {
				o.withRequestStore = rs
			}
		}
	}
}

// WithActivityLedger switches the activity ledger feature on.
func WithActivityLedger(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			o.withLedgerEnabled = enabled
		}
	}
}

// WithServiceLogger provides an optional logger for the service.
func WithServiceLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}
