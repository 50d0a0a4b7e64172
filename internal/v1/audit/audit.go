// Package audit implements the append-only security log for critical actions.
package audit

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/playroom-live/playroom/backend/go/internal/v1/metrics"
)

// Severity classifies how serious a recorded action is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Record is one entry in the security log.
type Record struct {
	Action   string
	Severity Severity
	RoomCode string
	ActorID  string
	Payload  map[string]any
}

// Log writes structured security records through a dedicated zap core.
// Writes are buffered by the encoder and flushed on Sync.
type Log struct {
	logger *zap.Logger
}

// New creates a security log writing JSON lines to the given path.
// An empty path logs to stderr, which suits containerized deployments.
func New(path string) (*Log, error) {
	sink := zapcore.Lock(os.Stderr)
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.Lock(f)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.InfoLevel)
	return &Log{logger: zap.New(core).Named("security")}, nil
}

// NewNop returns a security log that discards everything. Used in tests.
func NewNop() *Log {
	return &Log{logger: zap.NewNop()}
}

// Write appends a record to the security log and bumps the severity counter.
func (l *Log) Write(rec Record) {
	if l == nil || l.logger == nil {
		return
	}

	metrics.AuditRecords.WithLabelValues(string(rec.Severity)).Inc()

	l.logger.Info(rec.Action,
		zap.String("severity", string(rec.Severity)),
		zap.String("room_code", rec.RoomCode),
		zap.String("actor_id", rec.ActorID),
		zap.Int64("recorded_at", time.Now().UnixMilli()),
		zap.Any("payload", rec.Payload),
	)
}

// Sync flushes buffered records. Call on shutdown.
func (l *Log) Sync() error {
	if l == nil || l.logger == nil {
		return nil
	}
	return l.logger.Sync()
}
