package middleware

import (
	"fmt"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger is a chi middleware that logs each request through zap,
// leveled by response status, replacing chi's default plain-text logger.
//
// Adapted from the reference's gin-bound CustomLoggingMiddleware: same
// per-status leveling and human-readable latency/size formatting, ported
// onto chi's ResponseWriter wrapper since this module's router is chi,
// not gin.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			latency := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.String("latency", formatLatency(latency)),
				zap.String("size", formatBodySize(ww.BytesWritten())),
				zap.String("remote_addr", r.RemoteAddr),
			}
			msg := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			switch {
			case status >= 500:
				logger.Error(msg, fields...)
			case status >= 400:
				logger.Warn(msg, fields...)
			default:
				logger.Info(msg, fields...)
			}
		})
	}
}

func formatLatency(latency time.Duration) string {
	switch {
	case latency < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(latency.Nanoseconds())/1000)
	case latency < time.Second:
		return fmt.Sprintf("%.2fms", float64(latency.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", latency.Seconds())
	}
}

func formatBodySize(size int) string {
	switch {
	case size == 0:
		return "0B"
	case size < 1024:
		return fmt.Sprintf("%dB", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(size)/(1024*1024))
	}
}
