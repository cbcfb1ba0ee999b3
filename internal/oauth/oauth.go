// Package oauth implements the authorization-code flow and token
// lifecycle for the Google and Microsoft backends. Tokens live in the
// system keyring; the access token carries an expiry stamp and is
// refreshed sixty seconds early so a token never expires mid-request.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/da8ter/todosync/internal/credential"
)

// expiryMargin is subtracted from the provider's expires_in so a token
// close to expiry is refreshed before use.
const expiryMargin = 60 * time.Second

// Keyring access, replaceable in tests.
var (
	credGet    = credential.Get
	credSet    = credential.Set
	credDelete = credential.Delete
)

// Endpoint describes one provider's OAuth endpoints and scopes.
type Endpoint struct {
	// Name keys the keyring entries, e.g. "google" or "microsoft".
	Name     string
	AuthURL  string
	TokenURL string
	Scope    string
	// RedirectURI must match the provider app registration.
	RedirectURI string
}

// GoogleEndpoint returns the endpoint for the Google Tasks API.
func GoogleEndpoint() Endpoint {
	return Endpoint{
		Name:        "google",
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		Scope:       "https://www.googleapis.com/auth/tasks",
		RedirectURI: "http://localhost:3777/todosync/oauth/google",
	}
}

// MicrosoftEndpoint returns the endpoint for the Microsoft Graph Tasks
// API under the given tenant ("consumers", "organizations" or a tenant
// id).
func MicrosoftEndpoint(tenant string) Endpoint {
	if tenant == "" {
		tenant = "consumers"
	}
	base := "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0"
	return Endpoint{
		Name:        "microsoft",
		AuthURL:     base + "/authorize",
		TokenURL:    base + "/token",
		Scope:       "offline_access Tasks.ReadWrite",
		RedirectURI: "http://localhost:3777/todosync/oauth/microsoft",
	}
}

// storedToken is the keyring payload.
type storedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// Expiry is the epoch second after which the access token must not
	// be used, already including the early-refresh margin.
	Expiry int64 `json:"expiry"`
}

// tokenResponse is the provider token endpoint response shape shared by
// Google and Microsoft.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// TokenSource yields valid access tokens for one provider, refreshing
// through the token endpoint when needed. Safe for concurrent use.
type TokenSource struct {
	endpoint     Endpoint
	clientID     string
	clientSecret string
	http         *http.Client
	now          func() time.Time

	mu     sync.Mutex
	cached *storedToken
}

// NewTokenSource builds a token source for the given provider endpoint
// and OAuth client.
func NewTokenSource(ep Endpoint, clientID, clientSecret string) *TokenSource {
	return &TokenSource{
		endpoint:     ep,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

func (ts *TokenSource) credentialKey() string {
	return "oauth-" + ts.endpoint.Name
}

// AuthURL returns the user-facing authorization URL for the
// authorization-code grant.
func (ts *TokenSource) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", ts.clientID)
	q.Set("redirect_uri", ts.endpoint.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", ts.endpoint.Scope)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	if state != "" {
		q.Set("state", state)
	}
	return ts.endpoint.AuthURL + "?" + q.Encode()
}

// Exchange trades an authorization code for tokens and persists them.
func (ts *TokenSource) Exchange(ctx context.Context, code string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)
	form.Set("redirect_uri", ts.endpoint.RedirectURI)

	tok, err := ts.requestToken(ctx, form)
	if err != nil {
		return fmt.Errorf("exchanging %s authorization code: %w", ts.endpoint.Name, err)
	}
	return ts.save(tok, "")
}

// Token returns a currently valid access token, refreshing it when the
// stored one has expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.load()
	if err != nil {
		return "", err
	}
	if tok.AccessToken != "" && ts.now().Unix() < tok.Expiry {
		return tok.AccessToken, nil
	}

	if tok.RefreshToken == "" {
		return "", fmt.Errorf("%s: no refresh token stored, run auth again", ts.endpoint.Name)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)
	if ts.endpoint.Scope != "" {
		form.Set("scope", ts.endpoint.Scope)
	}

	fresh, err := ts.requestToken(ctx, form)
	if err != nil {
		return "", fmt.Errorf("refreshing %s access token: %w", ts.endpoint.Name, err)
	}
	if err := ts.save(fresh, tok.RefreshToken); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Connected reports whether tokens are stored for this provider.
func (ts *TokenSource) Connected() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tok, err := ts.load()
	return err == nil && (tok.AccessToken != "" || tok.RefreshToken != "")
}

// Disconnect removes the stored tokens.
func (ts *TokenSource) Disconnect() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.cached = nil
	if err := credDelete(ts.credentialKey()); err != nil {
		// Nothing stored is the goal state.
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return err
	}
	return nil
}

func (ts *TokenSource) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tok.Error != "" {
		return nil, fmt.Errorf("token endpoint: %s: %s", tok.Error, tok.ErrorDesc)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned HTTP %d without access token", resp.StatusCode)
	}
	return &tok, nil
}

// save persists the token pair. Providers may omit the refresh token on
// refresh responses; the previous one is kept then.
func (ts *TokenSource) save(tok *tokenResponse, previousRefresh string) error {
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	stored := storedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       ts.now().Add(time.Duration(expiresIn)*time.Second - expiryMargin).Unix(),
	}
	if stored.RefreshToken == "" {
		stored.RefreshToken = previousRefresh
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding %s token: %w", ts.endpoint.Name, err)
	}
	if err := credSet(ts.credentialKey(), string(data)); err != nil {
		return err
	}
	ts.cached = &stored
	return nil
}

func (ts *TokenSource) load() (*storedToken, error) {
	if ts.cached != nil {
		return ts.cached, nil
	}

	raw, err := credGet(ts.credentialKey())
	if err != nil {
		// Absent credentials read as an empty token so Token can give
		// the actionable "run auth" error.
		return &storedToken{}, nil
	}

	var tok storedToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("decoding stored %s token: %w", ts.endpoint.Name, err)
	}
	ts.cached = &tok
	return &tok, nil
}
