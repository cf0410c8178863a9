package store

import (
	"context"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// IsNetworkError reports whether err was caused by the connection to the store rather than by the
// request itself.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableRedisError is largely taken from https://github.com/go-redis/redis/blob/master/error.go#L28
func IsRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	for _, prefix := range []string{"LOADING ", "READONLY ", "CLUSTERDOWN ", "TRYAGAIN "} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
