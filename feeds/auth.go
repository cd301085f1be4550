package feeds

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER SESSION - login, token refresh, authenticated REST calls
// ═══════════════════════════════════════════════════════════════════════════════
//
// The broker requires a password + TOTP login that yields three tokens:
//   - jwtToken:  Authorization header for REST calls
//   - feedToken: WebSocket stream credential
//   - refreshToken: session renewal
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	loginPath      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	authRetryDelay = 5 * time.Second
	requestTimeout = 15 * time.Second
)

// Credentials holds everything needed to open a broker session.
type Credentials struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
}

// Session is an authenticated broker connection shared by the REST and
// WebSocket clients.
type Session struct {
	mu sync.RWMutex

	baseURL    string
	creds      Credentials
	maxRetries int
	httpClient *http.Client

	jwtToken     string
	refreshToken string
	feedToken    string
	loggedInAt   time.Time
}

// NewSession creates an unauthenticated session. Call Login before use.
func NewSession(baseURL string, creds Credentials, maxRetries int) *Session {
	return &Session{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type loginResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Login authenticates with password + TOTP, retrying with exponential
// backoff up to the configured cap. TOTP codes rotate every 30s, so each
// attempt regenerates the code.
func (s *Session) Login() error {
	var lastErr error
	delay := authRetryDelay
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := s.loginOnce(); err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Int("max", s.maxRetries).
				Dur("backoff", delay).Msg("Broker login failed, retrying...")
			time.Sleep(delay)
			delay *= 2
			continue
		}
		log.Info().Str("client", s.creds.ClientCode).Msg("🔐 Broker session established")
		return nil
	}
	return fmt.Errorf("broker login after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *Session) loginOnce() error {
	code, err := totpNow(s.creds.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"clientcode": s.creds.ClientCode,
		"password":   s.creds.Password,
		"totp":       code,
	})

	req, err := http.NewRequest(http.MethodPost, s.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.setCommonHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if !lr.Status || lr.Data.JWTToken == "" {
		return fmt.Errorf("login rejected: %s", lr.Message)
	}

	s.mu.Lock()
	s.jwtToken = lr.Data.JWTToken
	s.refreshToken = lr.Data.RefreshToken
	s.feedToken = lr.Data.FeedToken
	s.loggedInAt = time.Now()
	s.mu.Unlock()
	return nil
}

// FeedToken returns the WebSocket credential from the last login.
func (s *Session) FeedToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedToken
}

// ClientCode returns the broker client id.
func (s *Session) ClientCode() string { return s.creds.ClientCode }

// APIKey returns the broker API key.
func (s *Session) APIKey() string { return s.creds.APIKey }

// Post issues an authenticated POST to the broker REST API and returns the
// raw response body.
func (s *Session) Post(path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	s.setCommonHeaders(req)

	s.mu.RLock()
	jwt := s.jwtToken
	s.mu.RUnlock()
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s status %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}
	return raw, nil
}

func (s *Session) setCommonHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", s.creds.APIKey)
}

// ErrRateLimited marks a 403/429 from the broker; callers back off instead
// of hammering the endpoint.
var ErrRateLimited = fmt.Errorf("broker rate limited")

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// totpNow computes the RFC 6238 code for a base32 secret at the given time
// (6 digits, 30s step, SHA-1).
func totpNow(secret string, at time.Time) (string, error) {
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).
		DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	counter := uint64(at.Unix() / 30)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1000000), nil
}
