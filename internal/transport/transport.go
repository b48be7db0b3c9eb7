// Package transport carries SCPI command lines to instruments over TCP or a
// serial line. Every transport allows one outstanding request at a time.
package transport

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Defaults applied when the configuration leaves a field zero.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 60 * time.Second

	// ChunkSize is the read buffer size; a shorter read ends the reply.
	ChunkSize = 2048

	identityQuery = "*IDN?\n"
)

// IdentityCheck validates the comma separated fields of an *IDN? reply.
type IdentityCheck func(fields []string) bool

// IdentityContains accepts replies whose manufacturer and model fields contain
// the given substrings.
func IdentityContains(manufacturer, model string) IdentityCheck {
	return func(fields []string) bool {
		if len(fields) < 2 {
			return false
		}
		return strings.Contains(fields[0], manufacturer) && strings.Contains(fields[1], model)
	}
}

func checkIdentity(reply []byte, check IdentityCheck) bool {
	if check == nil {
		return true
	}
	fields := strings.Split(string(reply), ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return check(fields)
}

func withTerminator(command string) string {
	if strings.HasSuffix(command, "\n") {
		return command
	}
	return command + "\n"
}

// decodeReply returns the reply as text without trailing whitespace. Replies
// that are not valid UTF-8 are decoded as latin-1.
func decodeReply(data []byte) string {
	text := string(data)
	if !utf8.Valid(data) {
		if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
			text = string(decoded)
		}
	}
	return strings.TrimRight(text, " \t\r\n")
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
