package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/identity"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		requestID := GetRequestID(r.Context())

		log.Printf(
			"method=%s path=%s status=%d duration=%s request_id=%s",
			r.Method,
			r.URL.Path,
			wrapped.statusCode,
			duration,
			requestID,
		)
	})
}

// ActorMiddleware builds the acting identity from the headers the auth
// gateway sets. The gateway has already authenticated the caller; requests
// arriving without an identity are rejected outright.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-ID header must be a valid UUID")
			return
		}

		role, err := identity.ParseRole(r.Header.Get("X-Actor-Role"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_role", err.Error())
			return
		}

		actor := identity.Actor{ID: actorID, Role: role}

		if v := r.Header.Get("X-Patient-Profile-ID"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_profile", "X-Patient-Profile-ID must be a valid UUID")
				return
			}
			actor.PatientProfileID = &id
		}
		if v := r.Header.Get("X-Doctor-Profile-ID"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_profile", "X-Doctor-Profile-ID must be a valid UUID")
				return
			}
			actor.DoctorProfileID = &id
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetActor retrieves the acting identity from context.
func GetActor(ctx context.Context) (identity.Actor, bool) {
	a, ok := ctx.Value(actorKey).(identity.Actor)
	return a, ok
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
