package sheets

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

	"github.com/golang-jwt/jwt/v5"
)

const (
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	spreadsheetsRWS = "https://www.googleapis.com/auth/spreadsheets"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Credentials identifies the service-account principal used against the
// spreadsheet store.
type Credentials struct {
	ClientEmail string
	PrivateKey  string // PEM
}

// tokenSource exchanges an RS256-signed service-account assertion for a
// short-lived access token and caches it until near expiry.
type tokenSource struct {
	creds    Credentials
	tokenURL string
	hc       *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenSource(creds Credentials, hc *http.Client) *tokenSource {
	return &tokenSource{creds: creds, tokenURL: googleTokenURL, hc: hc}
}

func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiry) > time.Minute {
		return ts.token, nil
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ts.creds.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse service-account key: %w", err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.creds.ClientEmail,
		"scope": spreadsheetsRWS,
		"aud":   ts.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned no access_token")
	}
	ts.token = body.AccessToken
	ts.expiry = now.Add(time.Duration(body.ExpiresIn) * time.Second)
	return ts.token, nil
}
