package rotina

import (
	"regexp"
	"strings"
	"time"
)

var legacyAwait = regexp.MustCompile(`\bawait\s+(` + strings.Join(Primitives, "|") + `)\s*\(`)

// Normalize removes legacy suspension markers written before primitive
// calls. Every primitive already blocks, so the markers carry no meaning.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(src string) string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	return legacyAwait.ReplaceAllString(src, "$1(")
}

// Seconds converts a script duration to time.Duration. Negative values
// become zero.
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
