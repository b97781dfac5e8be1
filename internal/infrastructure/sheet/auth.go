package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/golang-jwt/jwt/v5"
)

const (
	spreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"
	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
)

// Credential errors
var (
	ErrMissingCredentials = errors.New("sheet: service account credentials are required")
	ErrInvalidPrivateKey  = errors.New("sheet: service account private key is invalid")
)

// Credentials is the subset of a Google service-account key file used here
type Credentials struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	TokenURI     string `json:"token_uri"`
}

// LoadCredentials reads a service-account JSON key file
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		return nil, ErrMissingCredentials
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheet: failed to read credentials: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials decodes a service-account JSON key
func ParseCredentials(data []byte) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("sheet: failed to parse credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, ErrMissingCredentials
	}
	return &creds, nil
}

// tokenSource exchanges a signed RS256 assertion for an access token
// and caches it until shortly before expiry.
type tokenSource struct {
	creds      *Credentials
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, nil
	}

	assertion, err := s.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("sheet: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", fulfillment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("sheet: failed to read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: token endpoint HTTP %d", fulfillment.ErrGatewayAuthFailed, resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: token response", fulfillment.ErrGatewayInvalidResponse)
	}

	s.token = tok.AccessToken
	s.expiry = s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

func (s *tokenSource) signAssertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.creds.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	now := s.now()
	claims := struct {
		Scope string `json:"scope"`
		jwt.RegisteredClaims
	}{
		Scope: spreadsheetsScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.creds.ClientEmail,
			Audience:  jwt.ClaimStrings{s.tokenURL},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.creds.PrivateKeyID != "" {
		token.Header["kid"] = s.creds.PrivateKeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sheet: failed to sign assertion: %w", err)
	}
	return signed, nil
}
