package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/api/handlers"
)

type IPAttemptTracker struct {
	attempts     map[string]*IPAttemptInfo
	mu           sync.RWMutex
	limit        int
	window       time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
	stopChan     chan struct{}
	stopOnce     sync.Once
}

type IPAttemptInfo struct {
	Count       int
	FirstSeen   time.Time
	LastAttempt time.Time
}

// NewIPAttemptTracker allows limit attempts per client IP inside window.
func NewIPAttemptTracker(limit int, window time.Duration) *IPAttemptTracker {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	tracker := &IPAttemptTracker{
		attempts:     make(map[string]*IPAttemptInfo),
		limit:        limit,
		window:       window,
		cleanupEvery: 5 * time.Minute,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}

	go tracker.startCleanup()

	return tracker
}

func (t *IPAttemptTracker) startCleanup() {
	ticker := time.NewTicker(t.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.cleanOldEntries()
		}
	}
}

func (t *IPAttemptTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

func (t *IPAttemptTracker) cleanOldEntries() {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry := t.now().Add(-t.window)
	for ip, info := range t.attempts {
		if info.LastAttempt.Before(expiry) {
			delete(t.attempts, ip)
		}
	}
}

// RecordAttempt counts one attempt and reports whether ip is still under the
// limit.
func (t *IPAttemptTracker) RecordAttempt(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	info, exists := t.attempts[ip]
	if !exists || now.Sub(info.FirstSeen) > t.window {
		info = &IPAttemptInfo{FirstSeen: now}
		t.attempts[ip] = info
	}

	info.Count++
	info.LastAttempt = now
	return info.Count <= t.limit
}

type RequestMiddleware struct {
	logger         *zap.Logger
	attemptTracker *IPAttemptTracker
}

func NewRequestMiddleware(logger *zap.Logger, tracker *IPAttemptTracker) *RequestMiddleware {
	return &RequestMiddleware{
		logger:         logger,
		attemptTracker: tracker,
	}
}

func (rm *RequestMiddleware) ProcessRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(c.Request.Context(), handlers.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		start := time.Now()
		rm.logger.Info("Request started",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()))
		c.Next()
		duration := time.Since(start)
		rm.logger.Info("Request completed",
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.Int("size", c.Writer.Size()))
	}
}

// LoginAttemptMiddleware throttles login attempts per client IP.
func (rm *RequestMiddleware) LoginAttemptMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !rm.attemptTracker.RecordAttempt(clientIP) {
			rm.logger.Warn("Too many login attempts",
				zap.String("client_ip", clientIP),
				zap.String("path", c.FullPath()))
			handlers.Fail(c, http.StatusTooManyRequests, "too many login attempts, try again later", nil)
			return
		}
		c.Next()
	}
}

func (rm *RequestMiddleware) RecoverPanic() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Request.Context().Value(handlers.RequestIDKey).(string)
				rm.logger.Error("Panic recovered",
					zap.String("request_id", requestID),
					zap.Any("error", err),
					zap.Stack("stack"))
				handlers.Fail(c, http.StatusInternalServerError, "something went wrong", nil)
			}
		}()
		c.Next()
	}
}
