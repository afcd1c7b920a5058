package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
)

// ErrNotFound is returned by Get for missing or expired entries
var ErrNotFound = errors.New("cache entry not found")

// Config holds store settings
type Config struct {
	// Dir is the badger directory; ignored when InMemory is set
	Dir      string
	InMemory bool
	// GCInterval runs value log GC; 0 disables it
	GCInterval time.Duration
	Logger     *zap.Logger
	Metrics    *monitoring.Metrics
}

// DefaultConfig returns persistent settings rooted at dir
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, GCInterval: 10 * time.Minute}
}

// InMemoryConfig returns settings for tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type envelope struct {
	Expires int64  `json:"expires"`
	Data    []byte `json:"data"`
}

// ComputeFunc produces a fresh value
type ComputeFunc func(ctx context.Context) ([]byte, error)

// ErrorFunc turns a failed recompute into a fallback value
type ErrorFunc func(err error) ([]byte, error)

// Store is a TTL key-value cache
type Store struct {
	db      *badger.DB
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
	flights singleflight.Group

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Open opens a store
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("cache directory is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{cfg.Logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	s := &Store{
		db:      db,
		logger:  cfg.Logger.Named("cache"),
		metrics: cfg.Metrics,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.wg.Add(1)
		go s.gcLoop(cfg.GCInterval)
	}
	return s, nil
}

// Get returns the value of key if present and not expired
func (s *Store) Get(key string) ([]byte, error) {
	var env envelope
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return sonic.Unmarshal(val, &env)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if env.Expires <= s.now().UnixMilli() {
		return nil, ErrNotFound
	}
	return env.Data, nil
}

// Set stores data under key for ttl
func (s *Store) Set(key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set %s: ttl must be positive", key)
	}
	raw, err := sonic.Marshal(envelope{Expires: s.now().Add(ttl).UnixMilli(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(hashKey(key), raw).WithTTL(ttl))
	})
}

// Delete removes key
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(hashKey(key))
	})
}

// GetOrCompute returns the cached value of key, or computes and stores it.
// When compute fails and onError is set, its result is returned instead and
// nothing is stored. Concurrent callers share one compute, which keeps
// running when the caller that started it goes away.
func (s *Store) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc, onError ErrorFunc) ([]byte, error) {
	if data, err := s.Get(key); err == nil {
		s.metrics.RecordCacheLookup(true)
		return data, nil
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}
	s.metrics.RecordCacheLookup(false)

	ch := s.flights.DoChan(key, func() (interface{}, error) {
		data, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if err := s.Set(key, data, ttl); err != nil {
			s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		if onError != nil {
			return onError(res.Err)
		}
		return nil, res.Err
	}
	return res.Val.([]byte), nil
}

// Close stops background GC and closes the database
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) gcLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

func hashKey(key string) []byte {
	sum := blake2b.Sum256([]byte(key))
	return []byte("c:" + hex.EncodeToString(sum[:]))
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
