package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingHTTPClient creates an HTTP client that honours Cache-Control on
// responses. The side-effect-free session RPCs are sent as GET requests, so
// repeated stats and list calls within the server's max-age are served locally.
func NewCachingHTTPClient(cacheDir string, base http.RoundTripper) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		// Use disk-based cache for persistence across invocations
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.MarkCachedResponses = true
	if base != nil {
		transport.Transport = base
	}

	return &http.Client{
		Transport: transport,
	}
}
