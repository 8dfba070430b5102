package common

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

func GetResponseTime(init time.Time) string {
	timeDiff := time.Since(init).Milliseconds()
	return fmt.Sprintf("%dms", timeDiff)
}

// GetKeysStringMap returns the keys of m in sorted order.
func GetKeysStringMap(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NowUTC returns the current time in UTC truncated to the microsecond
// precision Postgres stores.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// TruncateUTF8 shortens s to at most maxBytes bytes without splitting a rune.
// Invalid byte sequences are replaced first so the result is always valid UTF-8.
func TruncateUTF8(s string, maxBytes int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
