package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditRecord is one line of the audit trail.
type AuditRecord struct {
	Event    string        // blocked, start, complete, killed, error
	RunID    string        // execution correlation
	Target   string        // snippet file, if one was written
	Success  bool          // execution succeeded
	Failure  string        // failure kind, empty on success
	ExitCode int           // interpreter exit code, -1 if none
	Duration time.Duration // elapsed time at the event
	Message  string        // human-readable detail
}

// AuditTrail appends audit records as JSON lines to a dedicated file,
// independent of the operational log. A nil trail discards everything.
type AuditTrail struct {
	logger *zap.Logger
	file   *os.File
}

// OpenAudit opens (or creates) the audit file at path in append mode.
func OpenAudit(path string) (*AuditTrail, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.LevelKey = ""
	enc.CallerKey = ""
	enc.EncodeTime = zapcore.EpochMillisTimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), zapcore.InfoLevel)
	return &AuditTrail{logger: zap.New(core), file: file}, nil
}

// Log writes one record.
func (a *AuditTrail) Log(r AuditRecord) {
	if a == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event", r.Event),
		zap.String("run", r.RunID),
		zap.Bool("success", r.Success),
		zap.Int64("dur_ms", r.Duration.Milliseconds()),
	}
	if r.Target != "" {
		fields = append(fields, zap.String("target", r.Target))
	}
	if r.Failure != "" {
		fields = append(fields, zap.String("failure", r.Failure), zap.Int("exit_code", r.ExitCode))
	}
	a.logger.Info(r.Message, fields...)
}

// Close flushes and closes the audit file.
func (a *AuditTrail) Close() error {
	if a == nil {
		return nil
	}
	_ = a.logger.Sync()
	return a.file.Close()
}
