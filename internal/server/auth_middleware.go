package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

type bearerKey struct{}

// requireBearer rejects requests without an "Authorization: Bearer" token
// and stores the token in the request context.
func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="speaka"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bearerKey{}, token)))
	})
}

func bearerFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerKey{}).(string)
	return token
}

// requestLogger emits one structured entry per request.
func requestLogger(logger log.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("request",
				log.String("method", r.Method),
				log.String("path", r.URL.Path),
				log.Int("status", status),
				log.Duration("duration", time.Since(start)),
				log.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
