// Package errchan writes diagnostics into caller-owned, fixed-size buffers.
//
// A buffer is filled at most once per call. The message is truncated on a
// UTF-8 rune boundary so that it always fits together with its terminating
// NUL byte.
package errchan

import (
	"strings"
	"unicode/utf8"
)

// Write copies msg into buf as a NUL-terminated UTF-8 string and returns the
// number of message bytes written, excluding the terminator. An empty buf is
// left untouched.
func Write(buf []byte, msg string) int {
	if len(buf) == 0 {
		return 0
	}

	msg = strings.ToValidUTF8(msg, "?")
	limit := len(buf) - 1
	if len(msg) > limit {
		msg = msg[:limit]
		for len(msg) > 0 && !utf8.ValidString(msg) {
			msg = msg[:len(msg)-1]
		}
	}

	n := copy(buf, msg)
	buf[n] = 0

	return n
}

// Read returns the string stored in buf up to its first NUL byte.
func Read(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}

	return string(buf)
}
