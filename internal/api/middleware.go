package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"evshop-payment/internal/auth"
	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger logs one line per request. Query strings are left out since
// provider callbacks carry signatures in them.
func requestLogger() gin.HandlerFunc {
	logger := util.GetLogger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// requireRole accepts a bearer token carrying one of roles
func requireRole(tokens TokenParser, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			fail(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			fail(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Set(claimsKey, claims)
				c.Next()
				return
			}
		}
		fail(c, http.StatusForbidden, "Not allowed")
	}
}

// optionalRole is requireRole for routes that also serve anonymous callers.
// A token that is present must still be valid.
func optionalRole(tokens TokenParser, roles ...string) gin.HandlerFunc {
	strict := requireRole(tokens, roles...)
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		strict(c)
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func adminName(c *gin.Context) string {
	if claims := claimsFrom(c); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "admin"
}

// registerValidators adds the vnphone rule to gin's validator
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("vnphone", func(fl validator.FieldLevel) bool {
			return models.ValidPhone(fl.Field().String())
		})
	}
}
