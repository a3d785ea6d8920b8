package extract

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"
)

const defaultUserAgent = browserUserAgent

var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	IdleConnTimeout:       90 * time.Second,
}

// CloseIdleConnections releases pooled connections held by the library backend.
func CloseIdleConnections() {
	sharedTransport.CloseIdleConnections()
}

// consistentTransport gives every request the same browser-like identity.
type consistentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *consistentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" || req.Header.Get("Accept-Language") == "" || req.Header.Get("Accept") == "" {
		req = req.Clone(req.Context())
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the client the library backend talks through. The
// timeout bounds metadata calls only; stream reads are governed by the
// request context.
func newHTTPClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = sharedTransport
	}
	jar, _ := cookiejar.New(nil)
	var transport http.RoundTripper = &consistentTransport{
		base:      base,
		userAgent: defaultUserAgent,
	}
	transport = newRetryTransport(transport, defaultRetryConfig)
	return &http.Client{
		Jar:       jar,
		Transport: transport,
	}
}
