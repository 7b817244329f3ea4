package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/delegate/internal/logging"
	"github.com/wudi/delegate/internal/variables"
)

// AccessLogConfig configures the access log middleware
type AccessLogConfig struct {
	Logger *zap.Logger
	// SkipPaths are paths that should not be logged
	SkipPaths []string
}

// AccessLog creates a middleware that logs one structured entry per request.
func AccessLog(cfg AccessLogConfig) Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			r, varCtx := variables.WithRequest(r)
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lrw, r)

			varCtx.Status = lrw.status
			fields := []zap.Field{
				zap.String("request_id", varCtx.RequestID),
				zap.String("remote_addr", variables.ExtractClientIP(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", lrw.status),
				zap.Int64("body_bytes", lrw.bytes),
				zap.String("user_agent", r.UserAgent()),
				zap.Duration("response_time", time.Since(start)),
			}
			if varCtx.RouteID != "" {
				fields = append(fields,
					zap.String("route_id", varCtx.RouteID),
					zap.String("upstreams", strings.Join(varCtx.Upstreams, ",")),
					zap.String("gateway", varCtx.Gateway),
				)
			}
			logger.Info("request", fields...)
		})
	}
}

// loggingResponseWriter captures status and body size
type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the wrapped writer for http.ResponseController.
func (w *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
