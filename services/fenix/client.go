// Package fenix talks to the FenixEdu identity provider: OAuth2 code exchange and
// the person/courses API used to learn who logged in and what they attend or teach.
package fenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/utils"
	"golang.org/x/oauth2"
)

const (
	authorizePath = "/oauth/userdialog"
	tokenPath     = "/oauth/access_token"
	personPath    = "/api/fenix/v1/person"
	coursesPath   = "/api/fenix/v1/person/courses"

	// maxErrorBody caps how much of a failed response body ends up in an error
	maxErrorBody = 512

	// maxResponseBody caps how much of a successful response body is decoded
	maxResponseBody = 1 << 20
)

var (
	// ErrMissingCode is returned when an empty authorization code is exchanged
	ErrMissingCode = errors.New("authorization code is required")

	// ErrInvalidPayload is returned when the provider answers with JSON we cannot use
	ErrInvalidPayload = errors.New("invalid provider payload")
)

// Client is a FenixEdu OAuth2 client bound to one application registration
type Client struct {
	baseURL      string
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// coursesResponse is the body of GET /person/courses
type coursesResponse struct {
	Attending []models.CourseReference `json:"attending" validate:"dive"`
	Teaching  []models.CourseReference `json:"teaching" validate:"dive"`
}

// NewFenixClient validates the application registration and builds a client.
// A nil httpClient gets one with the configured timeout.
func NewFenixClient(cfg config.FenixConfig, httpClient *http.Client) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if err := validateAbsoluteURL("base url", base); err != nil {
		return nil, err
	}
	if cfg.ConsumerKey == "" {
		return nil, fmt.Errorf("consumer key is required")
	}
	if cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("consumer secret is required")
	}
	if err := validateAbsoluteURL("callback url", cfg.CallbackURL); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Client{
		baseURL: base,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ConsumerKey,
			ClientSecret: cfg.ConsumerSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + authorizePath,
				TokenURL:  base + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.CallbackURL,
		},
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL returns the provider URL the browser is sent to for login
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingCode
	}

	token, err := c.oauth2Config.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// GetProfile fetches the authenticated person
func (c *Client) GetProfile(ctx context.Context, token *oauth2.Token) (*models.Profile, error) {
	var profile models.Profile
	if err := c.getJSON(ctx, token, personPath, &profile); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(&profile); err != nil {
		return nil, fmt.Errorf("%w: person: %v", ErrInvalidPayload, err)
	}
	return &profile, nil
}

// GetEnrollments fetches the courses the person attends and teaches
func (c *Client) GetEnrollments(ctx context.Context, token *oauth2.Token) (*models.Enrollments, error) {
	var body coursesResponse
	if err := c.getJSON(ctx, token, coursesPath, &body); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(&body); err != nil {
		return nil, fmt.Errorf("%w: courses: %v", ErrInvalidPayload, err)
	}
	return &models.Enrollments{
		Attending: body.Attending,
		Teaching:  body.Teaching,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, token *oauth2.Token, path string, out interface{}) error {
	if token == nil {
		return fmt.Errorf("access token is required")
	}

	client := c.oauth2Config.Client(c.withHTTPClient(ctx), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("request to %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", ErrInvalidPayload, path, err)
	}
	return nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func validateAbsoluteURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: host is required", name)
	}
	return nil
}
