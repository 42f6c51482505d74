// Package redis publishes finished cycles to Redis for dashboards and other
// consumers: a trimmed stream of cycles, a latest-outcome key per asset and
// a pub/sub notification.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"sip-agent/internal/model"
)

// Keys and channels.
const (
	StreamKey  = "sip:cycles"
	ChannelKey = "pub:sip:cycles"

	latestPrefix = "sip:latest:"

	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 24 * time.Hour
)

// LatestKey is the key holding an asset's most recent outcome.
func LatestKey(asset string) string {
	return latestPrefix + strings.ToUpper(asset)
}

// Config configures the Redis connection and retention.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	StreamMaxLen int64         // approximate stream cap, default 10000
	LatestTTL    time.Duration // default 24h
}

// Publisher writes cycles to Redis in one pipelined round trip.
type Publisher struct {
	client goredis.Cmdable
	maxLen int64
	ttl    time.Duration
}

// Connect creates a client from cfg and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return client, nil
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client goredis.Cmdable, cfg Config) *Publisher {
	p := &Publisher{client: client, maxLen: cfg.StreamMaxLen, ttl: cfg.LatestTTL}
	if p.maxLen <= 0 {
		p.maxLen = defaultStreamMaxLen
	}
	if p.ttl <= 0 {
		p.ttl = defaultLatestTTL
	}
	return p
}

// cycleMessage is the JSON form published for a cycle.
type cycleMessage struct {
	ID         string               `json:"id"`
	StartedAt  int64                `json:"started_at"`
	FinishedAt int64                `json:"finished_at"`
	Budget     float64              `json:"budget"`
	Bought     int                  `json:"bought"`
	Skipped    int                  `json:"skipped"`
	Errored    int                  `json:"errored"`
	Outcomes   []model.AssetOutcome `json:"outcomes"`
}

func encodeCycle(c model.Cycle) ([]byte, error) {
	b, s, e := c.Tally()
	return json.Marshal(cycleMessage{
		ID:         c.ID,
		StartedAt:  c.StartedAt.UnixMilli(),
		FinishedAt: c.FinishedAt.UnixMilli(),
		Budget:     c.Budget,
		Bought:     b,
		Skipped:    s,
		Errored:    e,
		Outcomes:   c.Outcomes,
	})
}

// Publish writes XADD + SET per asset + PUBLISH for c.
func (p *Publisher) Publish(ctx context.Context, c model.Cycle) error {
	payload, err := encodeCycle(c)
	if err != nil {
		return fmt.Errorf("redis encode cycle %s: %w", c.ID, err)
	}
	data := string(payload)

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"id": c.ID, "data": data},
	})
	for _, o := range c.Outcomes {
		raw, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("redis encode outcome %s: %w", o.Asset, err)
		}
		pipe.Set(ctx, LatestKey(o.Asset), raw, p.ttl)
	}
	pipe.Publish(ctx, ChannelKey, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish cycle %s: %w", c.ID, err)
	}
	return nil
}
