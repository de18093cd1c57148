// Package api is the client for the room listing and profile endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/omochice/cipherchat/pkg/protocol"
)

var ErrInvalidProfile = errors.New("invalid profile")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Profile is the externally owned profile of an identity.
type Profile struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required,max=64"`
	Image  string `json:"image,omitempty" validate:"omitempty,max=2048"`
	Status string `json:"status,omitempty" validate:"max=140"`
	Bio    string `json:"bio,omitempty" validate:"max=1024"`
}

var validate = validator.New()

// Validate checks p against the limits the profile endpoint enforces.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

// TokenSource returns the bearer credential for a request.
type TokenSource func() (string, error)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.HTTPClient = c }
}

func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) { cl.token = ts }
}

// Client talks to the REST side of a relay.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	token      TokenSource
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRooms returns the rooms the caller belongs to.
func (c *Client) ListRooms(ctx context.Context) ([]protocol.Room, error) {
	var rooms []protocol.Room
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &rooms); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// GetProfile fetches the profile of id.
func (c *Client) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return p, nil
}

// UpdateProfile validates p, stores it and returns the stored copy.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to encode profile: %w", err)
	}

	var updated Profile
	if err := c.do(ctx, http.MethodPut, "/api/profiles/"+url.PathEscape(p.ID), body, &updated); err != nil {
		return Profile{}, fmt.Errorf("failed to update profile %s: %w", p.ID, err)
	}
	return updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("failed to obtain credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(respBody))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
