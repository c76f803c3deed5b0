package middlewares

import (
	"net/http"
	"os"
	"strings"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"bitbucket.org/radianceaesthetics/ops_backend/utils"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// SessionMiddleware resolves the token header to a username. Interactive
// sessions are looked up in Redis; the static operator token (OPS_TOKEN_HASH,
// a bcrypt hash) covers headless automation like the cron trigger.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		username, exists, err := config.GetRedisValue("Token:" + token)
		if err == nil && exists {
			ctx := utils.SetTokenInContext(c.Request.Context(), token)
			ctx = utils.SetUsernameInContext(ctx, username)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		if opsHash := strings.TrimSpace(os.Getenv("OPS_TOKEN_HASH")); opsHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(opsHash), []byte(token)) == nil {
				ctx := utils.SetTokenInContext(c.Request.Context(), token)
				ctx = utils.SetUsernameInContext(ctx, "ops")
				ctx = utils.SetIsOperatorInContext(ctx, true)
				c.Request = c.Request.WithContext(ctx)
				c.Next()
				return
			}
		}

		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
	}
}
