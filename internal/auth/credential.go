package auth

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is an access/refresh token pair with its expiry and granted scopes.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Clone returns a deep copy. Clone of nil is nil.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

// Expired reports whether the access token is no longer usable at now.
// A zero ExpiresAt never expires.
func (c *Credential) Expired(now time.Time) bool {
	return c.expired(now, 0)
}

func (c *Credential) expired(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(c.ExpiresAt)
}

func credentialFromToken(token *oauth2.Token, requested []string) *Credential {
	scopes := slices.Clone(requested)
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	return &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       scopes,
	}
}
