package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

type authResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate obtains a fresh access token with the local strategy and
// caches it for later requests.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body := map[string]any{
		"strategy": "local",
		"email":    c.email,
		"password": c.password,
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/authentication", body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("authentication returned no token")
	}

	c.setToken(resp.AccessToken)
	return resp.AccessToken, nil
}

// GetAuthUser verifies the worker's credentials. It first tries to reuse
// the cached token: decode it, check expiry, resolve the user it names.
// Any failure on that path is logged and swallowed; the client then
// re-authenticates from scratch, and a failure there propagates.
func (c *Client) GetAuthUser(ctx context.Context) (*model.User, error) {
	if token := c.currentToken(); token != "" {
		user, err := c.resolveTokenUser(ctx, token)
		if err == nil {
			return user, nil
		}
		c.logger.Info("Auth token reuse failed", logging.LogFields{
			"reason": err.Error(),
		})
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	user, err := c.resolveTokenUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("authenticated user lookup failed: %w", err)
	}
	return user, nil
}

// resolveTokenUser decodes the token without verifying its signature
// (the server is the verifier; the worker only needs the subject and
// expiry) and resolves the named user.
func (c *Client) resolveTokenUser(ctx context.Context, token string) (*model.User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("token decode failed: %w", err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if time.Now().After(exp.Time) {
			return nil, errors.New("token expired")
		}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.New("token has no subject")
	}

	return c.GetUser(ctx, subject)
}
