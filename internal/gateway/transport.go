package gateway

import (
	"net/http"

	"golang.org/x/oauth2"
)

// NewOAuth2Transport wraps a token source as the RoundTripper passed to
// WithAuthenticatedTransport. The gateway never acquires credentials
// itself; callers own the TokenSource (client-credentials, device-code,
// cached refresh token, whatever their channel's auth scheme requires).
func NewOAuth2Transport(ts oauth2.TokenSource, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	return &oauth2.Transport{Source: ts, Base: base}
}
