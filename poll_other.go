//go:build !unix

package cosched

import (
	"time"
)

func pollFDs([]FDInterest, time.Duration) ([]IOEvents, error) {
	return nil, ErrIOUnsupported
}
