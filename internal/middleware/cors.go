package middleware

import (
	"net/http"
	"strings"

	"github.com/alumnet/backend/internal/config"
	"github.com/gin-gonic/gin"
)

// CORS answers preflights and sets the allow headers from config. Origins are
// compared after trimming whitespace and trailing slashes; in development any
// origin is accepted.
func CORS(cfg *config.Config) gin.HandlerFunc {
	allowMethods := strings.Join(cfg.AllowedMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := strings.TrimRight(strings.TrimSpace(c.Request.Header.Get("Origin")), "/")

		allowed := cfg.Env == "development" && origin != ""
		for _, candidate := range cfg.AllowedOrigins {
			if origin == strings.TrimRight(strings.TrimSpace(candidate), "/") {
				allowed = true
				break
			}
		}

		c.Writer.Header().Add("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowMethods)
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		if allowed && origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
