package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const headerCronSecret = "X-Cron-Secret"

// CronAuth gates the invocation endpoints behind the shared secret.
// Loopback callers are exempt: a local crontab hitting its own process is
// equivalent to direct invocation.
func (s *Server) CronAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isLoopback(c.Request.RemoteAddr) {
			c.Next()
			return
		}

		secret := strings.TrimSpace(s.cfg.CronSecret)
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "remote invocation disabled"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader(headerCronSecret))
		if subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid cron secret"})
			return
		}
		c.Next()
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
