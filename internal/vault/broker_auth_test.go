package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/replerr"
)

func sealedCredsFor(t *testing.T, key []byte, account, user, pass string) SealedCredentials {
	t.Helper()
	blob, err := Seal(key, []byte(user+":"+pass))
	require.NoError(t, err)
	return SealedCredentials{Account: account, EncryptedBlob: blob}
}

func TestBrokerAuthenticator_Authenticate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-api-key", body.APIKey)
		assert.Equal(t, "user1", body.BrokerUserID)
		assert.Equal(t, "pw1", body.BrokerPasswd)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{
			StatusCode:   200,
			SessionToken: "sess-abc",
			ExpiresInSec: 3600,
		})
	}))
	defer server.Close()

	key, err := GenerateKey()
	require.NoError(t, err)
	auth := NewBrokerAuthenticator(server.URL, "test-api-key", key, zerolog.Nop())

	creds := sealedCredsFor(t, key, "acct-1", "user1", "pw1")
	token, expiresAt, err := auth.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)
}

func TestBrokerAuthenticator_Authenticate_UnauthorizedIsInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
	}))
	defer server.Close()

	key, err := GenerateKey()
	require.NoError(t, err)
	auth := NewBrokerAuthenticator(server.URL, "test-api-key", key, zerolog.Nop())

	creds := sealedCredsFor(t, key, "acct-1", "user1", "pw1")
	_, _, err = auth.Authenticate(context.Background(), creds)
	require.Error(t, err)
	var invalid *replerr.InvalidCredentialsError
	assert.True(t, errors.As(err, &invalid))
}

func TestBrokerAuthenticator_Authenticate_ServiceUnavailableIsAuthTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"down for maintenance"}`))
	}))
	defer server.Close()

	key, err := GenerateKey()
	require.NoError(t, err)
	auth := NewBrokerAuthenticator(server.URL, "test-api-key", key, zerolog.Nop())

	creds := sealedCredsFor(t, key, "acct-1", "user1", "pw1")
	_, _, err = auth.Authenticate(context.Background(), creds)
	require.Error(t, err)
	var transient *replerr.AuthTransientError
	assert.True(t, errors.As(err, &transient))
}

func TestBrokerAuthenticator_Authenticate_TooManyRequestsIsAuthTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	key, err := GenerateKey()
	require.NoError(t, err)
	auth := NewBrokerAuthenticator(server.URL, "test-api-key", key, zerolog.Nop())

	creds := sealedCredsFor(t, key, "acct-1", "user1", "pw1")
	_, _, err = auth.Authenticate(context.Background(), creds)
	require.Error(t, err)
	var transient *replerr.AuthTransientError
	assert.True(t, errors.As(err, &transient))
}

func TestBrokerAuthenticator_Authenticate_TransportFailureIsAuthTransient(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	// Point at a closed listener so the dial itself fails.
	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable.Close()
	auth := NewBrokerAuthenticator(unreachable.URL, "test-api-key", key, zerolog.Nop())

	creds := sealedCredsFor(t, key, "acct-1", "user1", "pw1")
	_, _, err = auth.Authenticate(context.Background(), creds)
	require.Error(t, err)
	var transient *replerr.AuthTransientError
	assert.True(t, errors.As(err, &transient))
}

func TestBrokerAuthenticator_Authenticate_EmptyTokenErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{StatusCode: 200, Message: "no token issued"})
	}))
	defer server.Close()

	key, err := GenerateKey()
	require.NoError(t, err)
	auth := NewBrokerAuthenticator(server.URL, "test-api-key", key, zerolog.Nop())

	creds := sealedCredsFor(t, key, "acct-1", "user1", "pw1")
	_, _, err = auth.Authenticate(context.Background(), creds)
	assert.Error(t, err)
}

func TestSplitCredentials(t *testing.T) {
	user, pass, err := splitCredentials([]byte("alice:s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s3cret", pass)

	_, _, err = splitCredentials([]byte("no-separator"))
	assert.Error(t, err)
}
