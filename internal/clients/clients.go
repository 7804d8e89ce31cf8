package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"semaphore/bursar/internal/config"
)

// Clients holds the optional backing services. A nil field means the
// matching address was not configured.
type Clients struct {
	Redis *redis.Client
	NATS  *nats.Conn
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Clients, error) {
	c := &Clients{}
	if cfg.RedisAddr != "" {
		client, err := dialRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.Redis = client
	}
	if cfg.NATSURL != "" {
		conn, err := dialNATS(cfg, log)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.NATS = conn
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.NATS != nil {
		_ = c.NATS.Drain()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

func dialRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg.DialTimeout))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func dialNATS(cfg config.Config, log *zap.Logger) (*nats.Conn, error) {
	servers := strings.Split(cfg.NATSURL, ",")
	conn, err := nats.Connect(strings.Join(servers, ","),
		nats.Name("bursar"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(timeoutOr(cfg.DialTimeout)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
