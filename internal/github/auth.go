package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies bearer tokens for remote API calls. Token
// acquisition flows live behind this interface; the client only ever
// asks for the current token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken returns a TokenSource that always yields the given token
// (a personal access token, typically).
func StaticToken(token string) TokenSource {
	return staticToken(token)
}

type staticToken string

func (t staticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// AppTokenSource mints installation tokens for a GitHub App: a short
// RS256 app JWT is exchanged for an installation access token, which is
// cached until shortly before expiry.
type AppTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	baseURL        string
	httpClient     *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewAppTokenSource parses the app's PEM-encoded private key and returns
// a caching token source.
func NewAppTokenSource(appID, installationID int64, pemKey []byte, baseURL string) (*AppTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Token implements TokenSource.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiry) > time.Minute {
		return s.token, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	appJWT, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", &APIError{Op: "create installation token", StatusCode: resp.StatusCode}
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode installation token: %w", err)
	}

	s.token = body.Token
	s.expiry = body.ExpiresAt
	return s.token, nil
}
