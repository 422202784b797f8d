// Package ratelimit throttles WebSocket connection attempts and queue entry
// using ulule/limiter fixed-window counters backed by the shared store when
// a client is given.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/metrics"
)

// Limiter enforces the two rate limits the signaling service cares about:
// new WebSocket connections per source IP, and find-partner requests per
// connected user (to stop a single client from hammering the queue).
type Limiter struct {
	wsIP        *limiter.Limiter
	findPartner *limiter.Limiter
	store       limiter.Store
}

// New builds a Limiter. When redisClient is nil it falls back to an
// in-memory store, which is fine for a single instance but does not share
// state across replicas.
func New(wsIPRate, findPartnerRate string, redisClient *redis.Client) (*Limiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid ws ip rate: %w", err)
	}

	fpRate, err := limiter.NewRateFromFormatted(findPartnerRate)
	if err != nil {
		return nil, fmt.Errorf("invalid find-partner rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "voicepair:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using shared store backend")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store; limits are not shared across instances")
	}

	return &Limiter{
		wsIP:        limiter.New(store, ipRate),
		findPartner: limiter.New(store, fpRate),
		store:       store,
	}, nil
}

// CheckWebSocketIP returns true if a new connection from ip is allowed. On
// store failure it fails open, since a rate limiter outage must never take
// down signaling itself.
func (l *Limiter) CheckWebSocketIP(ctx context.Context, ip string) bool {
	c, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store unavailable for ws connect check")
		return true
	}

	if c.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "ip").Inc()
		return false
	}
	return true
}

// CheckFindPartner returns true if the connection identified by connID may
// issue another find-partner request.
func (l *Limiter) CheckFindPartner(ctx context.Context, connID string) bool {
	c, err := l.findPartner.Get(ctx, connID)
	if err != nil {
		logging.Error(ctx, "rate limiter store unavailable for find-partner check")
		return true
	}

	if c.Reached {
		metrics.RateLimitExceeded.WithLabelValues("find_partner", "conn").Inc()
		return false
	}
	return true
}

// WebSocketUpgradeMiddleware rejects connection attempts from an IP that has
// exceeded its connect rate, before the upgrade handshake begins.
func (l *Limiter) WebSocketUpgradeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.CheckWebSocketIP(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many connection attempts, try again shortly",
			})
			return
		}
		c.Next()
	}
}
