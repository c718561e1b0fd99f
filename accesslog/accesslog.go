// Package accesslog emits the per-request audit log on a single worker
// goroutine so reverse DNS lookups never block a request handler.
package accesslog

import (
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	contentdrop "github.com/wolfeidau/content-drop"
	"github.com/wolfeidau/content-drop/telemetry"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultQueueSize = 256

// Config holds access logger configuration.
type Config struct {
	// Logger is the sink when FilePath is empty.
	Logger *slog.Logger

	// FilePath, when set, sends entries to a rotating JSON log file
	// instead of Logger.
	FilePath string

	// MaxSizeMb is the rotation threshold for the file sink.
	MaxSizeMb int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int

	// QueueSize bounds the pending entry queue. Entries beyond it are
	// dropped and counted rather than blocking a request.
	QueueSize int

	// Resolver overrides the reverse DNS lookup, for tests.
	Resolver func(ip string) string
}

// PostEntry describes one accepted upload.
type PostEntry struct {
	Key                 string
	MediaType           string
	IP                  string
	UserAgent           string
	Size                int
	ContentHash         contentdrop.Hash
	CompressionDeferred bool
}

// ReadEntry describes one content read.
type ReadEntry struct {
	Key         string
	IP          string
	UserAgent   string
	AcceptsGzip bool
}

// Logger serializes access-log emission on its own goroutine.
type Logger struct {
	logger  *slog.Logger
	resolve func(ip string) string
	closer  *lumberjack.Logger

	ch      chan func()
	dropped atomic.Int64
	doneCh  chan struct{}
}

// New creates and starts an access logger.
func New(cfg Config) *Logger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var closer *lumberjack.Logger
	if cfg.FilePath != "" {
		closer = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMb,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		logger = slog.New(slog.NewJSONHandler(closer, nil))
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	resolve := cfg.Resolver
	if resolve == nil {
		resolve = lookupHostname
	}

	l := &Logger{
		logger:  logger,
		resolve: resolve,
		closer:  closer,
		ch:      make(chan func(), queueSize),
		doneCh:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Post records an accepted upload.
func (l *Logger) Post(e PostEntry) {
	l.submit(func() {
		l.logger.Info("post",
			"key", e.Key,
			"media_type", e.MediaType,
			"origin", e.IP,
			"hostname", l.resolve(e.IP),
			"user_agent", e.UserAgent,
			"size_bytes", e.Size,
			"content_hash", e.ContentHash.ShortString(),
			"compression_deferred", e.CompressionDeferred,
		)
	})
}

// Read records a content read.
func (l *Logger) Read(e ReadEntry) {
	l.submit(func() {
		l.logger.Info("request",
			"key", e.Key,
			"origin", e.IP,
			"hostname", l.resolve(e.IP),
			"user_agent", e.UserAgent,
			"accepts_gzip", e.AcceptsGzip,
		)
	})
}

// Dropped returns the number of entries discarded due to a full queue.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Stop drains the queue, stops the worker and closes the file sink.
func (l *Logger) Stop() {
	close(l.ch)
	<-l.doneCh
	if l.closer != nil {
		_ = l.closer.Close()
	}
}

func (l *Logger) submit(fn func()) {
	select {
	case l.ch <- fn:
	default:
		l.dropped.Add(1)
		telemetry.RecordAccessLogDropped(1)
	}
}

func (l *Logger) run() {
	defer close(l.doneCh)
	for fn := range l.ch {
		fn()
	}
}

// lookupHostname reverse-resolves ip, returning "" when the lookup
// fails or yields nothing. Failures are deliberately swallowed; this is
// an observability concern only.
func lookupHostname(ip string) string {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
