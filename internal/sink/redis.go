package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"notifrelay/internal/relay"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate cap, 0 = unbounded
}

// Redis appends each record to a stream with XADD.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" || cfg.Stream == "" {
		return nil, errors.New("redis: addr and stream are required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &Redis{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Send(ctx context.Context, rec relay.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"package_name": rec.SourceApp,
			"data":         string(data),
			"posted_at":    strconv.FormatInt(rec.PostedAt, 10),
			"timestamp":    strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
