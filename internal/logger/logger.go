package logger

import (
	"context"
	"errors"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/deskpool/internal/models"
)

// Setup returns the process logger. Dev mode logs at debug level to a console
// writer with stack traces.
func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ connect.Interceptor = (*ConnectRequests)(nil)

// ConnectRequests logs every RPC with its procedure, peer and duration.
type ConnectRequests struct {
	logger zerolog.Logger
}

func NewConnectRequests(logger zerolog.Logger) *ConnectRequests {
	return &ConnectRequests{logger: logger}
}

func (c *ConnectRequests) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return connect.UnaryFunc(func(
		ctx context.Context,
		req connect.AnyRequest,
	) (connect.AnyResponse, error) {
		started := time.Now()

		ctx = c.logger.With().
			Str("procedure", req.Spec().Procedure).
			Str("protocol", req.Peer().Protocol).
			Str("addr", req.Peer().Addr).
			Logger().WithContext(ctx)

		resp, err := next(ctx, req)

		if err != nil {
			event := zerolog.Ctx(ctx).Error()
			if isCallerError(err) {
				event = zerolog.Ctx(ctx).Warn()
			}

			event.
				Err(err).
				Str("code", connect.CodeOf(err).String()).
				Dur("duration", time.Since(started)).
				Msg("rpc call")

			return resp, err
		}

		event := zerolog.Ctx(ctx).Info().Dur("duration", time.Since(started))
		if resp != nil {
			if info, ok := resp.Any().(*models.ConnectionInfo); ok {
				// the credential is never logged
				event = event.
					Str("session_id", info.SessionID).
					Int("display", info.Display).
					Bool("reused", info.Reused)
			}
		}
		event.Msg("rpc call")

		return resp, nil
	})
}

// The session service is unary only, streams are passed through.
func (c *ConnectRequests) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (c *ConnectRequests) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// isCallerError reports errors that are an expected outcome for the caller
// rather than a server fault.
func isCallerError(err error) bool {
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return false
	}

	switch connectErr.Code() {
	case connect.CodeNotFound, connect.CodeInvalidArgument, connect.CodeResourceExhausted:
		return true
	default:
		return false
	}
}
