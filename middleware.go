package lessweb

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// HTTPMiddleware is the standard net/http middleware signature. It wraps the
// whole application, outside route lookup and argument binding. Component
// middleware registered in the container implements Middleware instead.
type HTTPMiddleware func(next http.Handler) http.Handler

// Recovery returns middleware that recovers from panics and responds with a
// 500 problem response.
func Recovery(logger *zap.Logger) HTTPMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)
					writeErrorResponse(w, Error(http.StatusInternalServerError, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware so that the first element is the outermost.
func chain(h http.Handler, mws []HTTPMiddleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
