package launcher

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// WaitForPort polls host:port at a fixed interval until a TCP connection
// succeeds or timeout elapses. There is no retry beyond the timeout.
func WaitForPort(ctx context.Context, host string, port int, timeout, interval, dialTimeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	started := time.Now()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return struct{}{}, err
		}
		_ = conn.Close()
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		return fmt.Errorf("%w: %s after %s (%d attempts): %w", ErrPortNotReady, addr, timeout, attempts, err)
	}

	log.Debug().
		Str("addr", addr).
		Int("attempts", attempts).
		Dur("duration", time.Since(started)).
		Msg("Port ready")

	return nil
}
