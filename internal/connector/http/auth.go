package http

import (
	"encoding/base64"
	"net/http"
)

// Auth applies credentials to an outgoing request.
type Auth interface {
	Apply(req *http.Request)
}

// NoAuth sends requests without credentials.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

// BearerToken sets "Authorization: Bearer <token>". Used by the worklog
// source and the booking target.
type BearerToken struct {
	Token string
}

func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// AtlassianAuth is basic auth with an account email and API token, as
// required by the issue tracker's cloud API.
type AtlassianAuth struct {
	Email    string
	APIToken string
}

func (a AtlassianAuth) Apply(req *http.Request) {
	if a.Email == "" || a.APIToken == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Email + ":" + a.APIToken))
	req.Header.Set("Authorization", "Basic "+credentials)
}
