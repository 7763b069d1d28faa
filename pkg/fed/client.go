package fed

import (
	"net/http"
	"time"
)

// Delivery client defaults. Remote inboxes are many and mostly cold, so the
// idle pool is kept small and short-lived.
const (
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxIdleConns    = 10
	defaultMaxConnsPerHost = 3
	defaultIdleConnTimeout = 5 * time.Minute
)

// ClientOptions tunes the delivery HTTP client.
type ClientOptions struct {
	RequestTimeout  time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
}

// NewDeliveryClient builds an http.Client suited for inbox delivery:
// bounded idle pool, per-host connection cap and an overall request
// timeout. Zero option values select the defaults.
func NewDeliveryClient(opts ClientOptions) *http.Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaultMaxIdleConns
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = defaultIdleConnTimeout
	}

	return &http.Client{
		Timeout: opts.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        opts.MaxIdleConns,
			MaxConnsPerHost:     opts.MaxConnsPerHost,
			MaxIdleConnsPerHost: opts.MaxConnsPerHost,
			IdleConnTimeout:     opts.IdleConnTimeout,
		},
	}
}
