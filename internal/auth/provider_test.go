package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("static token", func(t *testing.T) {
		token, err := Acquire(ctx, Static(" abc "))
		require.NoError(t, err)
		assert.Equal(t, "abc", token)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := Acquire(ctx, nil)
		assert.ErrorIs(t, err, ErrAuthUnavailable)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := Acquire(ctx, Static(""))
		assert.ErrorIs(t, err, ErrAuthUnavailable)
	})

	t.Run("provider error is wrapped", func(t *testing.T) {
		_, err := Acquire(ctx, Func(func(context.Context) (string, error) {
			return "", errors.New("session expired")
		}))
		assert.ErrorIs(t, err, ErrAuthUnavailable)
		assert.Contains(t, err.Error(), "session expired")
	})
}

func TestIssuer_Token(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "dash", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":60}`))
	}))
	defer srv.Close()

	issuer := NewIssuer(srv.URL, "dash", "s3cret", time.Second)

	for i := 0; i < 2; i++ {
		token, err := Acquire(context.Background(), issuer)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)
	}
	assert.Equal(t, 2, calls, "issuer must not cache tokens")
}

func TestIssuer_TokenEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Acquire(context.Background(), NewIssuer(srv.URL, "a", "b", time.Second))
	assert.ErrorIs(t, err, ErrAuthUnavailable)
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
}

func TestIssuer_TokenEndpointErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"unknown client"}`))
	}))
	defer srv.Close()

	_, err := Acquire(context.Background(), NewIssuer(srv.URL, "a", "b", time.Second))
	assert.ErrorIs(t, err, ErrAuthUnavailable)
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "invalid_client", retrieveErr.ErrorCode)
	assert.Equal(t, "unknown client", retrieveErr.ErrorDescription)
}

func TestIssuer_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
	}))
	defer srv.Close()

	_, err := Acquire(context.Background(), NewIssuer(srv.URL, "a", "b", time.Second))
	assert.ErrorIs(t, err, ErrAuthUnavailable)
}

func TestIssuer_NotConfigured(t *testing.T) {
	_, err := NewIssuer("", "", "", time.Second).Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthUnavailable)
}
