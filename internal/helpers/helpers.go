// Package helpers holds small formatting and lookup utilities shared by the
// engine, the HTTP API and the CLI.
package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns prefix + "_" + 32 random hex characters.
func GenerateID(prefix string) string {
	id := uuid.New()
	return prefix + "_" + hex.EncodeToString(id[:])
}

// HashString returns the hex SHA-256 of s, for cache keys.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FormatDuration renders a duration in milliseconds: "500ms" below one
// second, "1.50s" from there on.
func FormatDuration(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FormatTimestamp renders t (now when zero) as UTC ISO 8601 with second
// precision.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// SafeGet walks a dotted key path ("user.profile.name") through nested
// maps and returns def when any step is missing.
func SafeGet(m map[string]any, key string, def any) any {
	var cur any = m
	for _, k := range strings.Split(key, ".") {
		next, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		if cur, ok = next[k]; !ok {
			return def
		}
	}
	return cur
}

// SafeGetString is SafeGet for string leaves.
func SafeGetString(m map[string]any, key, def string) string {
	if s, ok := SafeGet(m, key, nil).(string); ok {
		return s
	}
	return def
}
