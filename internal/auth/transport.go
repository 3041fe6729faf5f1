package auth

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Transport attaches the manager's access token to every request. A 401
// response triggers one forced refresh and one replay of the request.
type Transport struct {
	Manager *Manager
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// NewHTTPClient returns a client whose requests are authorized by m.
func NewHTTPClient(m *Manager, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Manager: m, Base: base}}
}

// RoundTrip leaves req untouched. A body without GetBody is buffered so the
// replay can resend it.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.Manager.CurrentAccessToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	first := authorized(req, token)
	getBody := req.GetBody
	if req.Body != nil && req.Body != http.NoBody && getBody == nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		getBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		first.Body, _ = getBody()
		first.GetBody = getBody
	}

	resp, err := t.base().RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	cred, err := t.Manager.Refresh(ctx, false)
	if err != nil {
		return nil, err
	}

	retry := authorized(req, cred.AccessToken)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("failed to reset request body: %w", err)
		}
		retry.Body = body
		retry.GetBody = getBody
	}
	return t.base().RoundTrip(retry)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func authorized(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
