package conversation

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Session is everything a turn needs to reach the relay. It is passed by
// value into each request; nothing about it is global.
type Session struct {
	// Endpoint is the absolute URL of the chat route.
	Endpoint string
	// Code is the access code sent as the "code" query parameter when set.
	Code string
	// HTTPClient defaults to a client without an overall timeout, since a
	// turn lasts as long as the model keeps producing.
	HTTPClient *http.Client
}

var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	},
}

func (s Session) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return defaultHTTPClient
}

// URL returns the request URL with the access code applied.
func (s Session) URL() (string, error) {
	if s.Endpoint == "" {
		return "", fmt.Errorf("session endpoint is empty")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid session endpoint: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("session endpoint %q is not an absolute url", s.Endpoint)
	}
	if s.Code != "" {
		q := u.Query()
		q.Set("code", s.Code)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
