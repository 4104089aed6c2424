package errors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/copyleftdev/extrema/internal/logging"
)

// RecoveryMiddleware returns a middleware that recovers from panics, logs
// them with their stack and answers 500 with a JSON error body.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
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

				err := FromPanic(rec)
				logger.Error("Recovered from panic", map[string]interface{}{
					"error":  err.Error(),
					"stack":  strings.Join(StackOf(err), "\n"),
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  r.URL.RawQuery,
				})

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": http.StatusText(http.StatusInternalServerError),
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
