package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
)

func newTestClient(srv *httptest.Server) *HTTPClient {
	return NewHTTPClient(models.EnvironmentURLs{
		API:      srv.URL + "/api",
		Identity: srv.URL + "/identity",
	})
}

func TestPostPrelogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/accounts/prelogin", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "user@example.com", body["email"])

		json.NewEncoder(w).Encode(PreloginResponse{KDF: cryptox.KDFConfig{
			Type: cryptox.KDFTypePBKDF2, Iterations: 600000,
		}})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).PostPrelogin(context.Background(), "user@example.com")
	require.NoError(t, err)
	require.Equal(t, cryptox.KDFTypePBKDF2, resp.KDF.Type)
	require.Equal(t, 600000, resp.KDF.Iterations)
}

func TestPostPreloginNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "Unknown email."})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PostPrelogin(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, common.ErrNotFound)

	var apiErr *ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "Unknown email.", apiErr.Message)
}

func TestPostIdentityTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/identity/connect/token", r.URL.Path)

		var req TokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, models.CredentialKindPassword, req.Kind)
		require.Equal(t, "user@example.com", req.Email)

		json.NewEncoder(w).Encode(IdentityTokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
			Key:          "2.enc|key|mac",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	resp, err := c.PostIdentityToken(context.Background(), &TokenRequest{
		Kind:               models.CredentialKindPassword,
		Email:              "user@example.com",
		MasterPasswordHash: "hash",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Token)
	require.Nil(t, resp.TwoFactor)
	require.Nil(t, resp.Captcha)
	require.Equal(t, "access-1", resp.Token.AccessToken)

	// success stores the pair on the transport
	access, refresh := c.Tokens()
	require.Equal(t, "access-1", access)
	require.Equal(t, "refresh-1", refresh)
}

func TestPostIdentityTokenTwoFactorContinuation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"twoFactorProviders": map[string]any{
				"0": map[string]any{},
				"1": map[string]any{"email": "u***@example.com"},
			},
		})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).PostIdentityToken(context.Background(), &TokenRequest{
		Kind: models.CredentialKindPassword,
	})
	require.NoError(t, err)
	require.Nil(t, resp.Token)
	require.NotNil(t, resp.TwoFactor)
	require.Len(t, resp.TwoFactor.Providers, 2)
	require.Contains(t, resp.TwoFactor.Providers, models.TwoFactorProviderAuthenticator)
	require.Contains(t, resp.TwoFactor.Providers, models.TwoFactorProviderEmail)
}

func TestPostIdentityTokenCaptchaContinuation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"hCaptchaSiteKey": "site-key-1"})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).PostIdentityToken(context.Background(), &TokenRequest{
		Kind: models.CredentialKindPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Captcha)
	require.Equal(t, "site-key-1", resp.Captcha.SiteKey)
}

func TestPostIdentityTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error_description": "invalid_username_or_password"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PostIdentityToken(context.Background(), &TokenRequest{
		Kind: models.CredentialKindPassword,
	})
	require.ErrorIs(t, err, common.ErrAuthenticationRejected)
}

func TestPostIdentityTokenRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"message": "Slow down! Too many requests. Try again in 1m."})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PostIdentityToken(context.Background(), &TokenRequest{
		Kind: models.CredentialKindPassword,
	})
	require.ErrorIs(t, err, common.ErrRateLimited)

	var apiErr *ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Slow down! Too many requests. Try again in 1m.", apiErr.Message)
}

func TestRefreshIdentityToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "refresh_token", body["grant_type"])
		require.Equal(t, "refresh-old", body["refresh_token"])

		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-new",
			"refresh_token": "refresh-new",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.SetTokens("access-old", "refresh-old")
	require.NoError(t, c.RefreshIdentityToken(context.Background()))

	access, refresh := c.Tokens()
	require.Equal(t, "access-new", access)
	require.Equal(t, "refresh-new", refresh)
}

func TestRefreshIdentityTokenWithoutToken(t *testing.T) {
	c := NewHTTPClient(models.EnvironmentURLs{Base: "http://127.0.0.1:1"})
	err := c.RefreshIdentityToken(context.Background())
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestRefreshIdentityTokenRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "a",
			"refresh_token": "r",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.SetTokens("access", "refresh")

	var limited bool
	for i := 0; i < 5; i++ {
		if err := c.RefreshIdentityToken(context.Background()); err != nil {
			require.ErrorIs(t, err, common.ErrRateLimited)
			limited = true
			break
		}
	}
	require.True(t, limited)
}

func TestGetAccountRevisionDate(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/accounts/revision-date", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(at.UnixMilli())
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.SetTokens("access-1", "refresh-1")

	got, err := c.GetAccountRevisionDate(context.Background())
	require.NoError(t, err)
	require.True(t, got.Equal(at))
}

func TestGetSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sync", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"profile": map[string]any{
				"id":            "user-1",
				"email":         "user@example.com",
				"securityStamp": "stamp-1",
			},
			"ciphers": []map[string]any{
				{"id": "cipher-1", "name": "2.abc|def|ghi"},
			},
			"policies": []map[string]any{
				{"id": "pol-1", "organizationId": "org-1", "type": 9, "enabled": true},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.SetTokens("access-1", "")

	resp, err := c.GetSync(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user-1", resp.Profile.ID)
	require.Equal(t, "stamp-1", resp.Profile.SecurityStamp)

	require.Len(t, resp.Ciphers, 1)
	require.Equal(t, "cipher-1", resp.Ciphers[0].ID)
	require.Contains(t, string(resp.Ciphers[0].Raw), "2.abc|def|ghi")

	require.Len(t, resp.Policies, 1)
	require.Equal(t, models.PolicyTypeMaximumVaultTimeout, resp.Policies[0].Type)
}

func TestKeyConnectorRoundTrip(t *testing.T) {
	var posted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/connector/user-keys", r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			posted = body["key"]
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]string{"key": posted})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.SetTokens("access-1", "")
	ctx := context.Background()

	require.NoError(t, c.PostUserKeyToKeyConnector(ctx, srv.URL+"/connector", "b64-master-key"))
	key, err := c.GetUserKeyFromKeyConnector(ctx, srv.URL+"/connector")
	require.NoError(t, err)
	require.Equal(t, "b64-master-key", key)
}

func TestUnreachableServerMapsToUnavailable(t *testing.T) {
	c := NewHTTPClient(models.EnvironmentURLs{Base: "http://127.0.0.1:1"})
	_, err := c.PostPrelogin(context.Background(), "user@example.com")
	require.ErrorIs(t, err, common.ErrUnavailable)
	require.False(t, errors.Is(err, common.ErrAuthenticationRejected))
}
