package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/antoniostano/duet/internal/reliability"
)

// Authenticator exchanges credentials for a session token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// HTTPAuthenticator logs in against a JSON endpoint and pulls the token out
// of whichever field the service uses.
type HTTPAuthenticator struct {
	URL    string
	Client *http.Client
}

func NewHTTPAuthenticator(url string, timeout time.Duration) *HTTPAuthenticator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAuthenticator{
		URL:    strings.TrimSpace(url),
		Client: &http.Client{Timeout: timeout},
	}
}

var tokenPaths = []string{
	"token",
	"access_token",
	"data.token",
	"data.access_token",
	"result.token",
	"user.token",
}

func (a *HTTPAuthenticator) Login(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: login request: %w", ErrTransportFailure, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if reliability.IsRetryableHTTPStatus(res.StatusCode) {
		return "", fmt.Errorf("%w: login status %d", ErrTransportFailure, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("%w: login status %d", ErrAuthFailure, res.StatusCode)
	}
	token := ExtractToken(body)
	if token == "" {
		return "", fmt.Errorf("%w: no token in login response", ErrAuthFailure)
	}
	return token, nil
}

// ExtractToken returns the first non-empty string among the known token
// fields of a login response.
func ExtractToken(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, r := range gjson.GetManyBytes(body, tokenPaths...) {
		if r.Type != gjson.String {
			continue
		}
		if tok := strings.TrimSpace(r.String()); tok != "" {
			return tok
		}
	}
	return ""
}
