// Package audit writes an append-only JSONL record of every dispatched
// command: who asked, which vendor and operation, the outcome and latency.
// Files rotate by size through lumberjack.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/robot-control/rgw/internal/auth"
	"github.com/robot-control/rgw/internal/config"
)

// FileName is the active audit file inside the audit directory.
const FileName = "audit.jsonl"

// OutcomeSuccess is the Code recorded for successful commands.
const OutcomeSuccess = "SUCCESS"

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp     time.Time      `json:"ts"`
	User          string         `json:"user"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Vendor        string         `json:"vendor"`
	RobotID       string         `json:"robotId,omitempty"`
	Operation     string         `json:"operation"`
	Params        map[string]any `json:"params,omitempty"`
	Code          string         `json:"code"`
	Message       string         `json:"message,omitempty"`
	LatencyMs     int64          `json:"latencyMs"`
}

// Record is what a caller reports about one command.
type Record struct {
	CorrelationID string
	Vendor        string
	RobotID       string
	Operation     string
	Params        map[string]any
	// Code is OutcomeSuccess or the failure kind.
	Code    string
	Message string
	Latency time.Duration
}

// Logger implements the audit log. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	logger   *zap.Logger
}

// NewLogger creates an audit logger writing to cfg.Dir.
func NewLogger(cfg config.AuditConfig, logger *zap.Logger) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	filePath := filepath.Join(cfg.Dir, FileName)

	return NewWriterLogger(&lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}, filePath, logger), nil
}

// NewWriterLogger creates an audit logger over an arbitrary writer.
func NewWriterLogger(out io.WriteCloser, filePath string, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{filePath: filePath, out: out, logger: logger}
}

// Log appends an entry for rec. The user is taken from ctx.
func (l *Logger) Log(ctx context.Context, rec Record) {
	entry := Entry{
		Timestamp:     time.Now().UTC(),
		User:          auth.Subject(ctx),
		CorrelationID: rec.CorrelationID,
		Vendor:        rec.Vendor,
		RobotID:       rec.RobotID,
		Operation:     rec.Operation,
		Params:        rec.Params,
		Code:          rec.Code,
		Message:       rec.Message,
		LatencyMs:     rec.Latency.Milliseconds(),
	}
	l.writeEntry(entry)
}

func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", zap.Error(err))
	}
}

// Rotate starts a new audit file.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.out.(interface{ Rotate() error }); ok {
		return r.Rotate()
	}
	return nil
}

// FilePath returns the path of the active audit file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close flushes and closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}
