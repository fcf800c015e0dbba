package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agora-labs/agora/internal/apperror"
	"github.com/agora-labs/agora/internal/auth"
	"github.com/agora-labs/agora/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRequestIDLength = 128

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func accessLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}

// trustedHostMiddleware rejects requests whose Host is not listed. Entries may be
// exact names or "*.domain" suffixes; an empty list or "*" accepts every host.
func trustedHostMiddleware(allowedHosts []string) gin.HandlerFunc {
	exact := make(map[string]struct{}, len(allowedHosts))
	suffixes := make([]string, 0)
	for _, host := range allowedHosts {
		normalized := strings.ToLower(strings.TrimSpace(host))
		switch {
		case normalized == "*":
			return func(c *gin.Context) { c.Next() }
		case strings.HasPrefix(normalized, "*."):
			suffixes = append(suffixes, normalized[1:])
		case normalized != "":
			exact[normalized] = struct{}{}
		}
	}
	if len(exact) == 0 && len(suffixes) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		host := strings.ToLower(c.Request.Host)
		if name, _, err := net.SplitHostPort(host); err == nil {
			host = name
		}
		if _, ok := exact[host]; ok {
			c.Next()
			return
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(host, suffix) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "invalid_host", Detail: "invalid host header"})
	}
}

// authenticate resolves the X-API-Key header. A missing key answers missingStatus,
// an unknown key answers 403.
func (h *httpHandler) authenticate(missingStatus int) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.authenticator.Authenticate(c.GetHeader(apiKeyHeader))
		if err != nil {
			status := http.StatusForbidden
			reason := "invalid_api_key"
			if errors.Is(err, apperror.ErrMissingCredential) {
				status = missingStatus
				reason = "missing_api_key"
			}
			fields := []zap.Field{
				zap.String("reason", reason),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			}
			if status == http.StatusForbidden && reason == "invalid_api_key" {
				h.logger.Warn("api key rejected", fields...)
			} else {
				h.logger.Info("api key rejected", fields...)
			}
			h.metrics.AuthFailure(reason)
			if status == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", "ApiKey")
			}
			c.AbortWithStatusJSON(status, errorBody{Error: reason, Detail: err.Error()})
			return
		}
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

func (h *httpHandler) requireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := identityFromContext(c)
		if _, err := h.authenticator.Authorize(identity, required); err != nil {
			h.logger.Warn("insufficient role",
				zap.String("identity", identity.Name),
				zap.String("role", string(identity.Role)),
				zap.String("required", string(required)),
				zap.String("path", c.Request.URL.Path),
			)
			h.metrics.AuthFailure("insufficient_role")
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "insufficient_role", Detail: "admin access required for this operation"})
			return
		}
		c.Next()
	}
}

// limitIdentity applies the sliding window to the authenticated identity.
func (h *httpHandler) limitIdentity(c *gin.Context) {
	if h.identityLimiter == nil {
		c.Next()
		return
	}
	identity, _ := identityFromContext(c)
	admitted, err := h.identityLimiter.Admit(c.Request.Context(), "identity:"+identity.Name, h.identityLimit)
	if err != nil {
		h.logger.Error("identity rate limiter failed", zap.Error(err), zap.String("identity", identity.Name))
		writeError(c, http.StatusInternalServerError, "internal_error", "", "internal server error")
		return
	}
	if !admitted {
		h.metrics.RateLimited("identity")
		h.logger.Info("rate limit exceeded", zap.String("scope", "identity"), zap.String("identity", identity.Name))
		c.Header("Retry-After", retryAfterSeconds(h.identityWindow))
		writeError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "", apperror.ErrRateLimited.Error())
		return
	}
	c.Next()
}

// limitClient applies a token bucket keyed by client address. A nil limiter admits everything.
func (h *httpHandler) limitClient(scope string, limiter *ratelimit.ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		h.metrics.RateLimited(scope)
		h.logger.Info("rate limit exceeded", zap.String("scope", scope), zap.String("client_ip", c.ClientIP()))
		c.Header("Retry-After", retryAfterSeconds(limiter.Interval()/time.Duration(max(limiter.Limit(), 1))))
		writeError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "", apperror.ErrRateLimited.Error())
	}
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

func retryAfterSeconds(wait time.Duration) string {
	seconds := int64((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
