// Package httpclient configures the HTTP client used by the badge tooling.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type options struct {
	timeout         time.Duration
	maxIdlePerHost  int
	dialTimeout     time.Duration
	idleConnTimeout time.Duration
}

type Option func(*options)

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithMaxIdleConnsPerHost(n int) Option {
	return func(o *options) { o.maxIdlePerHost = n }
}

// NewOutbound creates an http client with pooled keep-alive connections
func NewOutbound(opts ...Option) *http.Client {
	o := options{
		timeout:         30 * time.Second,
		maxIdlePerHost:  128,
		dialTimeout:     5 * time.Second,
		idleConnTimeout: 90 * time.Second,
	}
	for _, f := range opts {
		f(&o)
	}
	maxIdle := max(o.maxIdlePerHost*2, 256)

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: o.dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   o.maxIdlePerHost,
		IdleConnTimeout:       o.idleConnTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   o.timeout,
	}
}
