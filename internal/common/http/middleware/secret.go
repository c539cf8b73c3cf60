package middleware

import (
	"crypto/subtle"
	"strings"

	pkgerrors "gradeline/pkg/errors"
	"gradeline/pkg/utils/contextkey"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	ExecutorSecretHeader = "X-Executor-Secret"
	ExecutorHostHeader   = "X-Executor-Host"
	OpsSecretHeader      = "X-Ops-Secret"
)

// RequireSecret rejects requests whose header does not match secret.
// An empty configured secret rejects everything.
func RequireSecret(header, secret string, code pkgerrors.ErrorCode) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(header))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			response.AbortWithErrorCode(c, code, "")
			return
		}
		if host := strings.TrimSpace(c.GetHeader(ExecutorHostHeader)); host != "" {
			withContextValue(c, contextkey.ExecutorHost, host)
		}
		c.Next()
	}
}
