package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/syncx"
)

const (
	requestTimeout = 12 * time.Second

	// Token refreshes are limited per transport so a misbehaving caller
	// cannot hammer the identity endpoint.
	refreshLimitKey = "refreshIdentityToken"
)

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	urls   models.EnvironmentURLs
	client *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string

	limiter *syncx.KeyedLimiter
}

func NewHTTPClient(urls models.EnvironmentURLs) *HTTPClient {
	return &HTTPClient{
		urls:    urls,
		client:  &http.Client{Timeout: requestTimeout},
		limiter: syncx.NewKeyedLimiter(rate.Every(5*time.Second), 2),
	}
}

func (c *HTTPClient) SetTokens(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
}

// Tokens returns the transport's current token pair, which may have been
// rotated by a refresh.
func (c *HTTPClient) Tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

func (c *HTTPClient) identityURL() string {
	if c.urls.Identity != "" {
		return c.urls.Identity
	}
	return c.urls.Base + "/identity"
}

func (c *HTTPClient) apiURL() string {
	if c.urls.API != "" {
		return c.urls.API
	}
	return c.urls.Base + "/api"
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body, out any, authed bool) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		token := c.accessToken
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *HTTPClient) mapError(status int, body []byte) error {
	var parsed struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &parsed)

	message := parsed.Message
	if message == "" {
		message = parsed.ErrorDescription
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return &ErrorResponse{StatusCode: status, Message: message}
}

func (c *HTTPClient) PostPrelogin(ctx context.Context, email string) (*PreloginResponse, error) {
	var resp PreloginResponse
	body := map[string]string{"email": email}
	if err := c.do(ctx, http.MethodPost, c.apiURL()+"/accounts/prelogin", body, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// identityErrorBody is the 400-body shape the identity endpoint uses to
// signal continuations rather than failures.
type identityErrorBody struct {
	TwoFactorProviders map[models.TwoFactorProviderType]models.TwoFactorProviderData `json:"twoFactorProviders"`
	CaptchaBypassToken string                                                        `json:"captchaBypassToken"`
	CaptchaSiteKey     string                                                        `json:"hCaptchaSiteKey"`
	ErrorDescription   string                                                        `json:"error_description"`
}

func (c *HTTPClient) PostIdentityToken(ctx context.Context, req *TokenRequest) (*IdentityResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.identityURL()+"/connect/token", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		var token IdentityTokenResponse
		if err := json.Unmarshal(body, &token); err != nil {
			return nil, err
		}
		c.SetTokens(token.AccessToken, token.RefreshToken)
		return &IdentityResponse{Token: &token}, nil

	case resp.StatusCode == 400:
		var cont identityErrorBody
		if err := json.Unmarshal(body, &cont); err == nil {
			if len(cont.TwoFactorProviders) > 0 {
				return &IdentityResponse{TwoFactor: &IdentityTwoFactorResponse{
					Providers:          cont.TwoFactorProviders,
					CaptchaBypassToken: cont.CaptchaBypassToken,
				}}, nil
			}
			if cont.CaptchaSiteKey != "" {
				return &IdentityResponse{Captcha: &IdentityCaptchaResponse{SiteKey: cont.CaptchaSiteKey}}, nil
			}
		}
		return nil, c.mapError(resp.StatusCode, body)

	default:
		return nil, c.mapError(resp.StatusCode, body)
	}
}

func (c *HTTPClient) RefreshIdentityToken(ctx context.Context) error {
	if !c.limiter.Allow(refreshLimitKey) {
		return fmt.Errorf("%w: token refresh", common.ErrRateLimited)
	}

	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()
	if refreshToken == "" {
		return common.ErrUnauthorized
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	body := map[string]string{"grant_type": "refresh_token", "refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, c.identityURL()+"/connect/token", body, &resp, false); err != nil {
		return err
	}

	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (c *HTTPClient) GetAccountRevisionDate(ctx context.Context) (time.Time, error) {
	var millis int64
	if err := c.do(ctx, http.MethodGet, c.apiURL()+"/accounts/revision-date", nil, &millis, true); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func (c *HTTPClient) GetSync(ctx context.Context) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.do(ctx, http.MethodGet, c.apiURL()+"/sync", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetUserKeyFromKeyConnector(ctx context.Context, url string) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodGet, url+"/user-keys", nil, &resp, true); err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *HTTPClient) PostUserKeyToKeyConnector(ctx context.Context, url, key string) error {
	body := map[string]string{"key": key}
	return c.do(ctx, http.MethodPost, url+"/user-keys", body, nil, true)
}

func (c *HTTPClient) PostSetKeyConnectorKey(ctx context.Context, req *SetKeyConnectorKeyRequest) error {
	return c.do(ctx, http.MethodPost, c.apiURL()+"/accounts/set-key-connector-key", req, nil, true)
}

func (c *HTTPClient) PostConvertToKeyConnector(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.apiURL()+"/accounts/convert-to-key-connector", nil, nil, true)
}
