package pod

import (
	"net/http"
	"time"

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

// clientOptions is the set of available options for NewClient
type clientOptions struct {
	withHTTPClient *http.Client
	withTimeout    time.Duration
	withLogger     hclog.Logger
}

// clientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withTimeout: DefaultRequestTimeout,
		withLogger:  hclog.NewNullLogger(),
	}
}

// getClientOpts gets the client defaults and applies the opt overrides
// passed in.  The per-request timeout is enforced through the http
// client's Timeout so it also bounds response body reads.
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withHTTPClient == nil {
		client, err := oidc.NewHTTPClient("")
		if err != nil {
			client = &http.Client{}
		}
		client.Timeout = opts.withTimeout
		opts.withHTTPClient = client
	}
	return opts
}

// WithHTTPClient provides an optional http client for Pod resource
// requests, replacing the cleanhttp default.  The caller's client keeps its
// own timeout configuration.
func WithHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withHTTPClient = client
		}
	}
}

// WithTimeout provides an optional per-request timeout for the default
// http client.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			if d > 0 {
				o.withTimeout = d
			}
		}
	}
}

// WithClientLogger provides an optional logger for the client.
func WithClientLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}
