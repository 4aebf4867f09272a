package colgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/speclog"
)

// Durability controls when spec log writes reach stable storage.
type Durability int

const (
	// DurabilitySync waits for fsync before a DDL operation returns.
	DurabilitySync Durability = iota
	// DurabilityAsync lets a background syncer batch fsyncs.
	DurabilityAsync
)

const (
	defaultLockTimeout        = 10 * time.Second
	defaultMaterializeRetries = 8
	defaultMaterializeWait    = 250 * time.Millisecond
)

type options struct {
	logger             *Logger
	metricsCollector   MetricsCollector
	fsys               fs.FileSystem
	lockTimeout        time.Duration
	materializeRetries int
	materializeWait    time.Duration
	memoryLimit        int64
	workers            int64
	ioLimit            int64
	durability         Durability
	truncateCorrupt    bool
	preload            bool
}

// Option configures Open and Create.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &colgo.BasicMetricsCollector{}
//	db, _ := colgo.Open(ctx, path, colgo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Adds: %d, Searches: %d\n", stats.AddCount, stats.SearchCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := colgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := colgo.Open(ctx, path, colgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithLockTimeout bounds how long a write waits for an object's I/O lock
// before failing with ErrLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithMaterializeRetries sets how often a caller waits for a slot that
// another caller is materializing, and how long each wait lasts. After the
// last attempt Resolve returns without a result.
func WithMaterializeRetries(retries int, wait time.Duration) Option {
	return func(o *options) {
		o.materializeRetries = retries
		o.materializeWait = wait
	}
}

// WithMemoryLimit caps the memory reserved for the object registry.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithWorkers sets the number of concurrent flush and preload jobs.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = int64(n)
	}
}

// WithIOLimit throttles engine snapshot writes to bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithDurability configures spec log syncing.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

// WithTruncateCorruptSpecs makes Open drop a spec log tail that fails its
// checksum instead of refusing to open. The database reports NeedsRepair.
func WithTruncateCorruptSpecs() Option {
	return func(o *options) {
		o.truncateCorrupt = true
	}
}

// WithPreload materializes every object during Open.
func WithPreload() Option {
	return func(o *options) {
		o.preload = true
	}
}

// withFileSystem replaces the file system used for spec logs and engine
// snapshots. Tests use it for fault injection.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

func (o *options) speclogOptions() speclog.Options {
	opts := speclog.DefaultOptions()
	if o.durability == DurabilityAsync {
		opts.Durability = speclog.DurabilityAsync
	}
	opts.TruncateCorrupt = o.truncateCorrupt
	return opts
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector:   NoopMetricsCollector{},
		logger:             NoopLogger(),
		fsys:               fs.Default,
		lockTimeout:        defaultLockTimeout,
		materializeRetries: defaultMaterializeRetries,
		materializeWait:    defaultMaterializeWait,
		durability:         DurabilitySync,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
