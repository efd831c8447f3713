// Package directory mirrors the live sessions of this instance into Redis so
// that every replica can list the sessions of the whole cluster.
package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
)

const (
	// KeyPrefix is the Redis key prefix for session hashes.
	KeyPrefix = "tabcast:session:"

	queueSize    = 256
	writeTimeout = 2 * time.Second
	scanCount    = 100
)

// Config locates the Redis server.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL is how long an entry survives without a touch. It should exceed the
	// session TTL so that entries of a crashed replica still age out.
	TTL time.Duration
}

type record struct {
	ID         string `redis:"sid"`
	URL        string `redis:"url"`
	Instance   string `redis:"instance"`
	CreatedAt  int64  `redis:"created_at"`
	LastAccess int64  `redis:"last_access"`
}

type opKind int

const (
	opPut opKind = iota
	opDelete
)

type op struct {
	kind opKind
	info model.SessionInfo
}

// Directory is a browser.Observer writing to Redis from a single background
// worker, so Redis latency never slows an action down.
type Directory struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan op
	done   chan struct{}
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger *zap.Logger) (*Directory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("directory: redis connection failed: %w", err)
	}
	return NewWithClient(client, cfg.TTL, logger), nil
}

// NewWithClient starts a directory over an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	d := &Directory{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "directory")),
		queue:  make(chan op, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Directory) SessionOpened(info model.SessionInfo) {
	d.enqueue(op{kind: opPut, info: info})
}

func (d *Directory) SessionTouched(info model.SessionInfo) {
	d.enqueue(op{kind: opPut, info: info})
}

func (d *Directory) SessionClosed(id, _ string) {
	d.enqueue(op{kind: opDelete, info: model.SessionInfo{ID: id}})
}

func (d *Directory) enqueue(o op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- o:
	default:
		d.logger.Warn("directory queue full, dropping update", zap.String("sid", o.info.ID))
	}
}

func (d *Directory) run() {
	defer close(d.done)
	for o := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		switch o.kind {
		case opPut:
			err = d.put(ctx, o.info)
		case opDelete:
			err = d.client.Del(ctx, KeyPrefix+o.info.ID).Err()
		}
		cancel()
		if err != nil {
			d.logger.Warn("directory write failed", zap.String("sid", o.info.ID), zap.Error(err))
		}
	}
}

func (d *Directory) put(ctx context.Context, info model.SessionInfo) error {
	key := KeyPrefix + info.ID
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key,
		"sid", info.ID,
		"url", info.URL,
		"instance", info.Instance,
		"created_at", info.CreatedAt.Unix(),
		"last_access", info.LastAccess.Unix(),
	)
	pipe.Expire(ctx, key, d.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns every session known to the cluster, oldest first.
func (d *Directory) List(ctx context.Context) ([]model.SessionInfo, error) {
	var (
		infos  []model.SessionInfo
		cursor uint64
	)
	for {
		keys, next, err := d.client.Scan(ctx, cursor, KeyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("directory: scan: %w", err)
		}
		for _, key := range keys {
			var rec record
			if err := d.client.HGetAll(ctx, key).Scan(&rec); err != nil {
				return nil, fmt.Errorf("directory: read %s: %w", key, err)
			}
			if rec.ID == "" {
				continue // expired between scan and read
			}
			infos = append(infos, model.SessionInfo{
				ID:         rec.ID,
				URL:        rec.URL,
				Instance:   rec.Instance,
				CreatedAt:  time.Unix(rec.CreatedAt, 0).UTC(),
				LastAccess: time.Unix(rec.LastAccess, 0).UTC(),
			})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slices.SortFunc(infos, func(a, b model.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos, nil
}

// Close drains pending writes and closes the Redis connection.
func (d *Directory) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.client.Close()
}
