package middleware

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "gradeline/pkg/errors"
	"gradeline/pkg/utils/contextkey"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const identityKey = "identity"

// Identity is the caller as asserted by the gateway issued token.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
}

type identityClaims struct {
	Email string `json:"email"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// IdentityConfig configures bearer token verification.
type IdentityConfig struct {
	Secret string
	Issuer string
}

// RequireIdentity verifies the HS256 bearer token and stores the caller identity.
func RequireIdentity(cfg IdentityConfig) gin.HandlerFunc {
	secret := []byte(cfg.Secret)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "identity verification is not configured")
			return
		}
		raw := extractBearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing bearer token")
			return
		}
		id, err := parseIdentity(raw, secret, cfg.Issuer)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(identityKey, id)
		withContextValue(c, contextkey.UserID, id.UserID)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// SignIdentity issues a token for id. Used by tooling and tests.
func SignIdentity(cfg IdentityConfig, id Identity, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = id.UserID
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identityClaims{
		Email:            id.Email,
		Admin:            id.Admin,
		RegisteredClaims: claims,
	})
	return token.SignedString([]byte(cfg.Secret))
}

func parseIdentity(raw string, secret []byte, issuer string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(raw, &identityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Identity{UserID: claims.Subject, Email: claims.Email, Admin: claims.Admin}, nil
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
