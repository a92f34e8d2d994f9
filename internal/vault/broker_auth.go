package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/replerr"
)

// loginRequest is the broker's login exchange body: the BrokerUserID/
// BrokerPasswd pair a session request header otherwise carries, submitted
// once to mint the short-lived session token the vault then caches.
type loginRequest struct {
	APIKey       string `json:"apiKey"`
	BrokerUserID string `json:"brokerUserId"`
	BrokerPasswd string `json:"brokerPasswd"`
}

type loginResponse struct {
	StatusCode   int    `json:"statusCode"`
	SessionToken string `json:"sessionToken"`
	ExpiresInSec int64  `json:"expiresInSec"`
	Message      string `json:"message"`
}

// BrokerAuthenticator implements Authenticator by exchanging a decrypted
// user/password pair for a broker session token over HTTP, with a 15 s
// client timeout (internal/broker's Adapter sets none); kept as
// a separate small client rather than routing through the Adapter itself,
// since authentication happens before any domain.Session exists to pass in.
type BrokerAuthenticator struct {
	baseURL    string
	apiKey     string
	sealingKey []byte
	httpClient *http.Client
	log        zerolog.Logger
}

// NewBrokerAuthenticator builds an Authenticator against the broker's login
// endpoint. sealingKey decrypts SealedCredentials.EncryptedBlob in memory,
// only for the duration of Authenticate.
func NewBrokerAuthenticator(baseURL, apiKey string, sealingKey []byte, log zerolog.Logger) *BrokerAuthenticator {
	return &BrokerAuthenticator{
		baseURL:    baseURL,
		apiKey:     apiKey,
		sealingKey: sealingKey,
		httpClient: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 10, ForceAttemptHTTP2: true},
			Timeout:   15 * time.Second,
		},
		log: log.With().Str("component", "broker_authenticator").Logger(),
	}
}

// Authenticate decrypts creds, exchanges them for a session token, and
// discards the decrypted plaintext before returning.
func (a *BrokerAuthenticator) Authenticate(ctx context.Context, creds SealedCredentials) (string, time.Time, error) {
	plaintext, err := Unseal(a.sealingKey, creds.EncryptedBlob)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("unseal credentials for %s: %w", creds.Account, err)
	}
	user, pass, err := splitCredentials(plaintext)
	for i := range plaintext {
		plaintext[i] = 0
	}
	if err != nil {
		return "", time.Time{}, err
	}

	reqBody, err := json.Marshal(loginRequest{APIKey: a.apiKey, BrokerUserID: user, BrokerPasswd: pass})
	pass = ""
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/login", bytes.NewReader(reqBody))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, classifyAuthTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, classifyAuthStatus(creds.Account, resp.StatusCode, raw)
	}

	var out loginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode login response: %w", err)
	}
	if out.SessionToken == "" {
		return "", time.Time{}, fmt.Errorf("broker login for %s returned no session token: %s", creds.Account, out.Message)
	}

	a.log.Debug().Str("account", creds.Account).Msg("broker session minted")
	return out.SessionToken, time.Now().Add(time.Duration(out.ExpiresInSec) * time.Second), nil
}

// classifyAuthStatus maps the broker login endpoint's HTTP status to the
// vault's two failure modes: a definitive rejection (bad credentials) is
// permanent, anything that looks like the login endpoint itself being
// unavailable is transient and worth a retry.
func classifyAuthStatus(account string, statusCode int, raw []byte) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &replerr.InvalidCredentialsError{Account: account}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return &replerr.AuthTransientError{Cause: fmt.Errorf("broker login unavailable for %s: status %d: %s", account, statusCode, raw)}
	default:
		return &replerr.InvalidCredentialsError{Account: account}
	}
}

// classifyAuthTransportError maps every transport failure reaching the
// broker's login endpoint, timeouts included, to AuthTransientError; none
// is treated as a credential problem.
func classifyAuthTransportError(err error) error {
	return &replerr.AuthTransientError{Cause: fmt.Errorf("login request failed: %w", err)}
}

// splitCredentials parses "user:password" plaintext, the layout Seal/Unseal
// round-trip on a sealed credential blob.
func splitCredentials(plaintext []byte) (user, pass string, err error) {
	for i, b := range plaintext {
		if b == ':' {
			return string(plaintext[:i]), string(plaintext[i+1:]), nil
		}
	}
	return "", "", fmt.Errorf("malformed credential plaintext: missing separator")
}
