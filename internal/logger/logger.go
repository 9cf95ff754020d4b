// Package logger builds the process-wide zap logger and provides the
// phone-number hashing helpers used everywhere a number would otherwise leak
// into a log line.
package logger

import (
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a production zap logger at the given level.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: parse level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// HashPhone returns a short one-way digest of a phone number. The digest is
// non-cryptographic; it exists so log lines and stored records can be
// correlated without ever carrying the number itself.
func HashPhone(phone string) string {
	h := fnv.New64a()
	h.Write([]byte(phone))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Phone returns a log field carrying only the one-way hash of the number.
func Phone(key, phone string) zap.Field {
	return zap.String(key, HashPhone(phone))
}
