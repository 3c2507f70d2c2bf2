package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lyzr/toolcrib/common/store"
)

// classify maps driver errors onto the store sentinels so callers can
// tell a missing row from an unreachable database
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, store.ErrNotFound)
	}
	if unreachable(err) {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func unreachable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// closed pool or connection
	return pgconn.SafeToRetry(err)
}
