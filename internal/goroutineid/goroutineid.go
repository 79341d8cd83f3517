// Package goroutineid extracts the id of the calling goroutine.
package goroutineid

import (
	"runtime"
)

const prefix = "goroutine "

// Get returns the current goroutine's id, parsed from the header line of
// [runtime.Stack]. It returns 0 if the header could not be parsed.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

func parse(b []byte) (id uint64) {
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	for _, c := range b[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
