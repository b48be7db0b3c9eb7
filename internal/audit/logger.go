// Package audit records every command executed by a control server as one
// JSON line in a rotated file.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/SaraRegibo/cgse/internal/auth"
	"github.com/SaraRegibo/cgse/internal/commands"
	"github.com/SaraRegibo/cgse/internal/device"
)

// FileName is the audit file inside the audit directory.
const FileName = "audit.jsonl"

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	User      string    `json:"user"`
	DeviceID  string    `json:"deviceId"`
	Action    string    `json:"action"`
	Params    []string  `json:"params,omitempty"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
	LatencyMs int64     `json:"latencyMs"`
}

// Outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeError   = "ERROR"
)

// Options control file rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Logger appends entries to the audit file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
}

// NewLogger creates the audit directory and opens the rotated audit file.
func NewLogger(dir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	filePath := filepath.Join(dir, FileName)
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		},
	}, nil
}

// LogCommand records one command. The user comes from the auth claims in ctx.
func (l *Logger) LogCommand(ctx context.Context, deviceID, action string, params []string, err error, latency time.Duration) {
	if l == nil {
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC(),
		User:      auth.SubjectFromContext(ctx),
		DeviceID:  deviceID,
		Action:    action,
		Params:    params,
		Outcome:   OutcomeSuccess,
		Code:      OutcomeSuccess,
		LatencyMs: latency.Milliseconds(),
	}
	if err != nil {
		entry.Outcome = OutcomeError
		entry.Code = codeFromError(err)
	}
	l.write(entry)
}

func codeFromError(err error) string {
	var cmdErr *commands.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	return device.Code(err)
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Rotate starts a new audit file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.out.(*lumberjack.Logger); ok {
		return r.Rotate()
	}
	return nil
}

// FilePath returns the path of the current audit file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close closes the audit file. Later entries are dropped.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}
