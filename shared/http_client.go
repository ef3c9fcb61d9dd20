package shared

import (
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"net/http"
)

// NewHttpClient is the client for all outbound federation traffic: actor and object
// fetches and inbox deliveries. Every call is bounded by the fetch timeout.
func NewHttpClient(cfg *Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.Federation.FetchTimeout(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
