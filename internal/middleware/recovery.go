package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/delegate/internal/errors"
	"github.com/wudi/delegate/internal/logging"
	"github.com/wudi/delegate/internal/variables"
)

// Recovery creates a panic recovery middleware. Panics are logged with a
// stack trace and answered with a 500 JSON error.
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = logging.Global()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := variables.GetFromRequest(r).RequestID
				if requestID == "" {
					requestID = w.Header().Get(RequestIDHeader)
				}
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)

				gwErr := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", rec))
				if requestID != "" {
					gwErr = gwErr.WithRequestID(requestID)
				}
				gwErr.WriteJSON(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
