package gateway

import (
	"context"
	"errors"
	"fmt"

	"livecast/internal/config"
	"livecast/internal/store"
)

var (
	ErrTooManyConnections = errors.New("too many connections from this address")
	ErrRateLimited        = errors.New("event rate limit exceeded")
)

// Limiter enforces the per-IP connection cap and the per-connection event
// rate window. Counters live in the shared KV so caps hold across gateway
// instances.
//
// Keys:
// conns:{ip}         COUNT  - open connections per address, TTL conn_ttl
// events:{conn_id}   COUNT  - events in the current window, TTL window
type Limiter struct {
	kv  store.KV
	cfg config.LimitsConfig
}

func NewLimiter(kv store.KV, cfg config.LimitsConfig) *Limiter {
	return &Limiter{kv: kv, cfg: cfg}
}

func connsKey(ip string) string {
	return fmt.Sprintf("conns:%s", ip)
}

func eventsKey(connID string) string {
	return fmt.Sprintf("events:%s", connID)
}

// AllowConnection counts a new connection from ip. The counter expires on
// its own so a crashed instance cannot pin an address out forever.
func (l *Limiter) AllowConnection(ctx context.Context, ip string) error {
	n, err := l.kv.Incr(ctx, connsKey(ip))
	if err != nil {
		return err
	}
	if n == 1 {
		if err := l.kv.Expire(ctx, connsKey(ip), l.cfg.ConnTTL); err != nil {
			return err
		}
	}
	if l.cfg.MaxConnsPerIP > 0 && n > int64(l.cfg.MaxConnsPerIP) {
		// A refused attempt holds no slot.
		l.kv.Decr(ctx, connsKey(ip))
		return ErrTooManyConnections
	}
	return nil
}

// ReleaseConnection frees one address slot on disconnect. The TTL still
// sweeps the counter if releases are missed.
func (l *Limiter) ReleaseConnection(ctx context.Context, ip string) error {
	n, err := l.kv.Decr(ctx, connsKey(ip))
	if err != nil {
		return err
	}
	if n <= 0 {
		return l.kv.Del(ctx, connsKey(ip))
	}
	return nil
}

// AllowEvent counts one inbound event for a connection and rejects it once
// the window budget is spent.
func (l *Limiter) AllowEvent(ctx context.Context, connID string) error {
	n, err := l.kv.Incr(ctx, eventsKey(connID))
	if err != nil {
		return err
	}
	if n == 1 {
		if err := l.kv.Expire(ctx, eventsKey(connID), l.cfg.EventWindow); err != nil {
			return err
		}
	}
	if l.cfg.MaxEventsPerWindow > 0 && n > int64(l.cfg.MaxEventsPerWindow) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears a connection's event counter, used when the connection ends.
func (l *Limiter) Reset(ctx context.Context, connID string) error {
	return l.kv.Del(ctx, eventsKey(connID))
}
