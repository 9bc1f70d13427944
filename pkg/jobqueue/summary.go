package jobqueue

import (
	"strings"
	"unicode/utf8"
)

// Summarize renders err for job logs and dead letters: joined errors are
// listed comma-separated and the result is cut to maxBytes on a rune boundary.
func Summarize(err error, maxBytes int) string {
	if err == nil {
		return ""
	}
	var msg string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			if e != nil {
				parts = append(parts, e.Error())
			}
		}
		msg = strings.Join(parts, ", ")
	} else {
		msg = err.Error()
	}
	return Truncate(msg, maxBytes)
}

// Truncate cuts s to maxBytes on a rune boundary. maxBytes <= 0 keeps s whole.
func Truncate(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return s
	}
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s[:maxBytes])
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}
