package remote

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

type tokenKey struct{}

// withToken pins the token resolved for one call onto its context, so the
// transport and the credential check agree on the same value.
func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// authTransport sets a bearer Authorization header when the request context
// carries a token and passes the request through untouched otherwise.
type authTransport struct {
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := tokenFromContext(req.Context())
	if token == "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	(&oauth2.Token{AccessToken: token}).SetAuthHeader(r)
	return t.base.RoundTrip(r)
}
