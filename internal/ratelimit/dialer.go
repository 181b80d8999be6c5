package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightzen/internal/config"
)

// DialerLimiter throttles reserve_next calls per interviewer and project.
// A nil *DialerLimiter allows everything.
type DialerLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewDialerLimiter(cfg config.Config, client *redis.Client) *DialerLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	if cfg.RateLimit.DialerNextRate <= 0 || cfg.RateLimit.DialerNextBurst <= 0 {
		return nil
	}
	return &DialerLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.DialerNextRate,
		burst:  cfg.RateLimit.DialerNextBurst,
	}
}

func (l *DialerLimiter) AllowInterviewer(ctx context.Context, projectID, userID string) (*RateLimitResult, error) {
	if l == nil || l.bucket == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID == "" || userID == "" {
		return &RateLimitResult{}, ErrInvalidLimiterKey
	}
	return l.bucket.Allow(ctx, dialerNextKey(projectID, userID), l.rate, l.burst)
}

func dialerNextKey(projectID, userID string) string {
	return fmt.Sprintf("rl:dialer_next:%s:%s", projectID, userID)
}
