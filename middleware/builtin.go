package middleware

import "log/slog"

// Logging logs every inbound span at debug level.
func Logging() MiddlewareFunc {
	return func(ctx *Context, next NextFunc) error {
		slog.Debug("Received data from peer", "fd", ctx.Fd, "remote", ctx.Source.RemoteAddr(), "dataLength", len(ctx.Data))
		return next(ctx)
	}
}

// Stats counts inbound traffic. It is not safe for concurrent use;
// read it from the event loop goroutine or after Serve returns.
type Stats struct {
	Reads   uint64
	BytesIn uint64
}

func (s *Stats) Middleware() MiddlewareFunc {
	return func(ctx *Context, next NextFunc) error {
		s.Reads++
		s.BytesIn += uint64(len(ctx.Data))
		return next(ctx)
	}
}

func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("reads", s.Reads),
		slog.Uint64("bytesIn", s.BytesIn),
	)
}
