// Package net provides shared HTTP client construction with tuned transport
// settings so media downloads, uploads and LLM calls reuse connections.
package net

import (
	"net/http"
	"time"
)

var defaultTransport = &http.Transport{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// NewOptimizedClient returns a client with the shared transport and the given
// total request timeout.
func NewOptimizedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport,
	}
}

// NewOptimizedClientWithNoTimeout returns a client with the shared transport
// and no overall deadline, for long-lived streaming requests. Callers bound
// these with a context.
func NewOptimizedClientWithNoTimeout() *http.Client {
	return &http.Client{
		Transport: defaultTransport,
	}
}
