package middleware

import (
	"crypto/subtle"
	"net/http"

	"kanban-live/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// APIAuth guards the automation API. A request passes with a matching
// X-API-Key header or with basic-auth credentials matching the configured
// board user. Failure short-circuits before any handler runs, so a
// rejected request causes no state change and no broadcast.
func APIAuth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" && cfg.APIKey != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1 {
				c.Next()
				return
			}
		}

		if user, pass, ok := c.Request.BasicAuth(); ok {
			if subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) == 1 && passwordMatches(cfg, pass) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthorized",
		})
	}
}

func passwordMatches(cfg config.AuthConfig, pass string) bool {
	if cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) == 1
}
