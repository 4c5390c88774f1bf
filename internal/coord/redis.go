package coord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Redis is the clustered Coordinator. All commands run through a circuit
// breaker so a dead Redis fails fast instead of piling up blocked callers;
// the zone router falls back to its static map while the breaker is open.
type Redis struct {
	client   *redis.Client
	cb       *gobreaker.CircuitBreaker
	log      *zap.Logger
	leaseTTL time.Duration
}

// NewRedis connects and pings the coordinator store. leaseTTL bounds how
// long a crashed gateway pins its lease; zero selects 90s.
func NewRedis(ctx context.Context, addr, password string, leaseTTL time.Duration, log *zap.Logger) (*Redis, error) {
	if leaseTTL <= 0 {
		leaseTTL = 90 * time.Second
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coord: ping redis %s: %w", addr, err)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "coordinator",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("coordinator breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Redis{client: client, cb: cb, log: log, leaseTTL: leaseTTL}, nil
}

func (r *Redis) exec(op func() (any, error)) (any, error) {
	return r.cb.Execute(op)
}

func (r *Redis) AcquireLease(ctx context.Context, holder string) (uint16, error) {
	v, err := r.exec(func() (any, error) {
		for i := 0; i < 1024; i++ {
			n, err := r.client.Incr(ctx, "lease/counter").Result()
			if err != nil {
				return nil, err
			}
			lease := uint16(n % 1024)
			ok, err := r.client.SetNX(ctx, leaseKey(lease), holder, r.leaseTTL).Result()
			if err != nil {
				return nil, err
			}
			if ok {
				return lease, nil
			}
		}
		return nil, ErrNoLease
	})
	if err != nil {
		return 0, err
	}
	return v.(uint16), nil
}

// RefreshLease must be called periodically (well inside the TTL) while the
// gateway is alive.
func (r *Redis) RefreshLease(ctx context.Context, lease uint16) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.client.Expire(ctx, leaseKey(lease), r.leaseTTL).Err()
	})
	return err
}

func (r *Redis) ReleaseLease(ctx context.Context, lease uint16) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.client.Del(ctx, leaseKey(lease)).Err()
	})
	return err
}

func (r *Redis) ZoneOwner(ctx context.Context, zone string) (string, error) {
	return r.getString(ctx, ownerKey(zone))
}

func (r *Redis) SetZoneOwner(ctx context.Context, zone, engineID string) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.client.Set(ctx, ownerKey(zone), engineID, 0).Err()
	})
	return err
}

func (r *Redis) Instances(ctx context.Context, zone string) (map[string]int, error) {
	prefix := "zone/" + zone + "/instance/"
	v, err := r.exec(func() (any, error) {
		out := make(map[string]int)
		var cursor uint64
		for {
			keys, next, err := r.client.Scan(ctx, cursor, prefix+"*/count", 100).Result()
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				raw, err := r.client.Get(ctx, key).Result()
				if err == redis.Nil {
					continue
				}
				if err != nil {
					return nil, err
				}
				id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/count")
				n, err := strconv.Atoi(raw)
				if err != nil {
					continue
				}
				out[id] = n
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]int), nil
}

func (r *Redis) SetInstanceCount(ctx context.Context, zone, instanceID string, count int) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.client.Set(ctx, instanceKey(zone, instanceID), count, 0).Err()
	})
	return err
}

func (r *Redis) PlayerEngine(ctx context.Context, nameLower string) (string, error) {
	return r.getString(ctx, playerKey(nameLower))
}

func (r *Redis) SetPlayerEngine(ctx context.Context, nameLower, engineID string) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.client.Set(ctx, playerKey(nameLower), engineID, 0).Err()
	})
	return err
}

func (r *Redis) DeletePlayerEngine(ctx context.Context, nameLower string) error {
	_, err := r.exec(func() (any, error) {
		return nil, r.client.Del(ctx, playerKey(nameLower)).Err()
	})
	return err
}

func (r *Redis) getString(ctx context.Context, key string) (string, error) {
	v, err := r.exec(func() (any, error) {
		s, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return "", nil
		}
		return s, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Redis) Close() error { return r.client.Close() }
