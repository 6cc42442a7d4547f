// Package strava is a small client for the parts of the Strava API the
// riders app uses: OAuth (authorize, code exchange, refresh), the athlete's
// activity list and athlete stats.
//
// OAuth goes through golang.org/x/oauth2 with a Strava endpoint. Strava
// differs from a textbook provider in two ways that matter here:
//   - scopes are comma separated, not space separated, so they are passed
//     as a raw "scope" parameter instead of oauth2.Config.Scopes
//   - token responses carry "expires_at" (unix seconds) and, on the first
//     exchange, the "athlete" object; both are read from the token extras
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	authURL  = "https://www.strava.com/oauth/authorize"
	tokenURL = "https://www.strava.com/oauth/token"
	apiBase  = "https://www.strava.com/api/v3"
)

// Scopes requested when a rider connects Strava.
var Scopes = []string{
	"read",
	"read_all",
	"profile:read_all",
	"profile:write",
	"activity:read",
	"activity:read_all",
	"activity:write",
}

// activitiesPerPage matches what a single day of activity realistically needs.
const activitiesPerPage = 30

type Client struct {
	oauth      *oauth2.Config
	apiBase    string
	httpClient *http.Client
}

func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURLs redirects every Strava call; tests point it at httptest.
func (c *Client) WithBaseURLs(authorize, token, api string) *Client {
	c.oauth.Endpoint.AuthURL = authorize
	c.oauth.Endpoint.TokenURL = token
	c.apiBase = strings.TrimRight(api, "/")
	return c
}

// AuthorizeURL is where the rider approves access. state is returned
// verbatim on the connect callback.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("scope", strings.Join(Scopes, ",")),
		oauth2.SetAuthURLParam("approval_prompt", "force"),
	)
}

// Exchange trades an authorization code for a token pair plus the athlete.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := c.oauth.Exchange(c.withHTTP(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("strava: exchanging code: %w", err)
	}
	return fromOAuth(tok)
}

// Refresh obtains a new token pair with grant_type=refresh_token.
// It does not retry; the caller decides what a failure means.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.oauth.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("strava: refreshing token: %w", err)
	}
	return fromOAuth(tok)
}

// ActivitiesBetween returns the first page of the athlete's activities
// that started inside (after, before).
func (c *Client) ActivitiesBetween(ctx context.Context, accessToken string, after, before time.Time) ([]Activity, error) {
	q := url.Values{}
	q.Set("before", strconv.FormatInt(before.Unix(), 10))
	q.Set("after", strconv.FormatInt(after.Unix(), 10))
	q.Set("page", "1")
	q.Set("per_page", strconv.Itoa(activitiesPerPage))

	var out []Activity
	if err := c.get(ctx, accessToken, "/athlete/activities?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("strava: listing activities: %w", err)
	}
	return out, nil
}

// AthleteStats returns the rolled-up ride and run totals for an athlete.
func (c *Client) AthleteStats(ctx context.Context, accessToken string, athleteID int64) (*AthleteStats, error) {
	var out AthleteStats
	path := "/athletes/" + strconv.FormatInt(athleteID, 10) + "/stats"
	if err := c.get(ctx, accessToken, path, &out); err != nil {
		return nil, fmt.Errorf("strava: fetching athlete stats: %w", err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func fromOAuth(tok *oauth2.Token) (*Token, error) {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("strava: token response is missing a token")
	}

	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if v, ok := numberExtra(tok.Extra("expires_at")); ok {
		out.ExpiresAt = time.Unix(v, 0)
	}

	if raw := tok.Extra("athlete"); raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("strava: re-encoding athlete: %w", err)
		}
		var a Athlete
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("strava: decoding athlete: %w", err)
		}
		out.Athlete = &a
	}
	return out, nil
}

// numberExtra accepts whatever numeric form the oauth2 package left in the
// token extras (float64 from JSON, or a string from form encoding).
func numberExtra(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
