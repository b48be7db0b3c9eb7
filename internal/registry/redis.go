package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// RedisOptions tunes the redis backend.
type RedisOptions struct {
	// Prefix namespaces all keys. Defaults to "cgse:registry".
	Prefix string
	// TTL is the lifetime of a registration without heartbeat. Defaults to 30s.
	TTL    time.Duration
	Logger *slog.Logger
}

// Redis stores each registration as a JSON value with a TTL and indexes it in
// a per-type set. A heartbeat keeps owned registrations alive.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	owned map[string]ownedService
	stop  chan struct{}
	done  chan struct{}
}

// ownedService keeps what the heartbeat needs to restore a lost record.
type ownedService struct {
	serviceType string
	payload     []byte
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedis connects to redis and starts the heartbeat.
func NewRedis(ctx context.Context, redisURL string, opts RedisOptions) (*Redis, error) {
	client, err := Connect(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, opts), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "cgse:registry"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Redis{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: opts.Logger.With("component", "registry"),
		owned:  make(map[string]ownedService),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.heartbeat()
	return r
}

func (r *Redis) serviceKey(id string) string {
	return r.prefix + ":service:" + id
}

func (r *Redis) typeKey(serviceType string) string {
	return r.prefix + ":type:" + serviceType
}

// Register stores svc and returns its ID.
func (r *Redis) Register(ctx context.Context, svc Service) (string, error) {
	if svc.Type == "" {
		return "", fmt.Errorf("service type is required")
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.RegisteredAt.IsZero() {
		svc.RegisteredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(svc)
	if err != nil {
		return "", fmt.Errorf("encode service: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.serviceKey(svc.ID), payload, r.ttl)
		p.SAdd(ctx, r.typeKey(svc.Type), svc.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("register %s: %w", svc.Type, err)
	}

	r.mu.Lock()
	r.owned[svc.ID] = ownedService{serviceType: svc.Type, payload: payload}
	r.mu.Unlock()

	r.logger.Info("service registered", "id", svc.ID, "type", svc.Type, "address", svc.Address())
	return svc.ID, nil
}

// Deregister removes a registration.
func (r *Redis) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	owned, ok := r.owned[id]
	delete(r.owned, id)
	r.mu.Unlock()
	serviceType := owned.serviceType

	if !ok {
		svc, err := r.load(ctx, id)
		if err != nil || svc == nil {
			return r.client.Del(ctx, r.serviceKey(id)).Err()
		}
		serviceType = svc.Type
	}

	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.serviceKey(id))
		p.SRem(ctx, r.typeKey(serviceType), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deregister %s: %w", id, err)
	}
	r.logger.Info("service deregistered", "id", id, "type", serviceType)
	return nil
}

// Discover returns the most recently registered live service of the type.
// Index entries whose record expired are pruned.
func (r *Redis) Discover(ctx context.Context, serviceType string) (*Service, error) {
	ids, err := r.client.SMembers(ctx, r.typeKey(serviceType)).Result()
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", serviceType, err)
	}

	var live []*Service
	for _, id := range ids {
		svc, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			r.client.SRem(ctx, r.typeKey(serviceType), id)
			continue
		}
		live = append(live, svc)
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serviceType)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].RegisteredAt.After(live[j].RegisteredAt)
	})
	return live[0], nil
}

func (r *Redis) load(ctx context.Context, id string) (*Service, error) {
	raw, err := r.client.Get(ctx, r.serviceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load service %s: %w", id, err)
	}
	var svc Service
	if err := json.Unmarshal(raw, &svc); err != nil {
		return nil, fmt.Errorf("decode service %s: %w", id, err)
	}
	return &svc, nil
}

func (r *Redis) heartbeat() {
	defer close(r.done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

// refresh extends the TTL of owned records and rewrites those that are
// gone, for example after a redis restart or a stall longer than the TTL.
func (r *Redis) refresh() {
	r.mu.Lock()
	owned := make(map[string]ownedService, len(r.owned))
	for id, o := range r.owned {
		owned[id] = o
	}
	r.mu.Unlock()

	if len(owned) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
	defer cancel()

	expires := make(map[string]*redis.BoolCmd, len(owned))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for id := range owned {
			expires[id] = p.Expire(ctx, r.serviceKey(id), r.ttl)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("registry heartbeat failed", "error", err)
		return
	}

	for id, cmd := range expires {
		if cmd.Val() {
			continue
		}
		r.mu.Lock()
		_, still := r.owned[id]
		r.mu.Unlock()
		if !still {
			continue
		}
		o := owned[id]
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.serviceKey(id), o.payload, r.ttl)
			p.SAdd(ctx, r.typeKey(o.serviceType), id)
			return nil
		})
		if err != nil {
			r.logger.Warn("could not restore registration", "id", id, "type", o.serviceType, "error", err)
			continue
		}
		r.logger.Info("registration restored", "id", id, "type", o.serviceType)
	}
}

// Close deregisters owned services, stops the heartbeat and closes the client.
func (r *Redis) Close() error {
	select {
	case <-r.stop:
		return nil
	default:
		close(r.stop)
	}
	<-r.done

	r.mu.Lock()
	ids := make([]string, 0, len(r.owned))
	for id := range r.owned {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	for _, id := range ids {
		err = multierr.Append(err, r.Deregister(ctx, id))
	}
	return multierr.Append(err, r.client.Close())
}
