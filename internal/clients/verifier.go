package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"unideploy/internal/apperrors"
	"unideploy/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified principal behind a bearer token.
type Identity struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

// TokenVerifier validates opaque identity tokens. The control plane never
// issues tokens itself.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifier validates HS256 tokens signed with a shared secret. Used
// when the identity provider hands us its signing key directly.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier over the shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, extracting the identity claims.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.Unauthorized("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, apperrors.Unauthorized("token missing subject")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &Identity{ExternalID: sub, Email: email, Name: name}, nil
}

// RemoteVerifier delegates token validation to the identity provider's
// verification endpoint.
type RemoteVerifier struct {
	verifyURL string
	client    *http.Client
}

// NewRemoteVerifier builds the HTTP-backed verifier.
func NewRemoteVerifier(cfg *config.Config) *RemoteVerifier {
	return &RemoteVerifier{
		verifyURL: cfg.AuthVerifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify posts the token and decodes the identity response.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if v.verifyURL == "" {
		return nil, apperrors.Unauthorized("no token verifier configured")
	}
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnauthorized, "token verification unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Unauthorized("token rejected")
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnauthorized, "malformed verifier response", err)
	}
	if ident.ExternalID == "" {
		return nil, apperrors.Unauthorized("verifier response missing external id")
	}
	return &ident, nil
}
