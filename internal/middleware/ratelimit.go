package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter is a fixed-window counter per caller and route, kept in Redis so
// every instance shares it. Redis failures let the request through.
type RateLimiter struct {
	redis    *redis.Client
	requests int
	window   time.Duration
	logger   *slog.Logger
}

func NewRateLimiter(redisClient *redis.Client, requests int, window time.Duration, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:    redisClient,
		requests: requests,
		window:   window,
		logger:   logger,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ratelimit:%s:%s", callerKey(r), r.URL.Path)

		allowed, remaining, err := rl.isAllowed(r.Context(), key)
		if err != nil {
			rl.logger.Warn("rate limit check failed", "err", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			utils.Error(w, apperrors.NewAPIError("rate_limit_exceeded", "too many requests, please try again later",
				http.StatusTooManyRequests, apperrors.ErrBadRequest))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// callerKey prefers the principal over the client address.
func callerKey(r *http.Request) string {
	if p, ok := models.PrincipalFrom(r.Context()); ok {
		return p.Role + ":" + p.ID
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) isAllowed(ctx context.Context, key string) (bool, int, error) {
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, rl.requests, err
	}

	count := int(incr.Val())
	remaining := rl.requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.requests, remaining, nil
}

// LocalRateLimiter is the single-instance fallback used when Redis is not
// configured. Each caller gets a token bucket refilled over the window.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	requests int
	every    rate.Limit
}

func NewLocalRateLimiter(requests int, window time.Duration) *LocalRateLimiter {
	if requests <= 0 {
		requests = 1
	}
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		requests: requests,
		every:    rate.Every(window / time.Duration(requests)),
	}
}

func (rl *LocalRateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.every, rl.requests)
		rl.limiters[key] = l
	}
	return l
}

func (rl *LocalRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := rl.limiter(callerKey(r) + ":" + r.URL.Path)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		if !l.Allow() {
			w.Header().Set("X-RateLimit-Remaining", "0")
			utils.Error(w, apperrors.NewAPIError("rate_limit_exceeded", "too many requests, please try again later",
				http.StatusTooManyRequests, apperrors.ErrBadRequest))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(l.Tokens())))
		next.ServeHTTP(w, r)
	})
}
