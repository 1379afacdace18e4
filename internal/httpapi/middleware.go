package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal — сотрудник, от имени которого выполняется запрос.
type Principal struct {
	UserID  uuid.UUID
	SalonID uuid.UUID
	Role    string
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// mustPrincipal — для обработчиков под authMiddleware, там принципал есть всегда.
func mustPrincipal(r *http.Request) Principal {
	p, _ := principalFrom(r.Context())
	return p
}

// authMiddleware проверяет Bearer-токен и кладёт Principal в контекст. Роль и
// активность сотрудника читаются из базы на каждый запрос.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.identity.Authenticate(r.Context(), strings.TrimSpace(raw))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		userID, _ := claims.UserID()
		salonID, _ := claims.SalonID()
		ctx := context.WithValue(r.Context(), principalKey, Principal{UserID: userID, SalonID: salonID, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// roleMiddleware пропускает роли не ниже required.
func roleMiddleware(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !model.IsRoleOrHigher(p.Role, required) {
				writeJSONError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger пишет метод, путь, статус и длительность каждого запроса.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Info("http request")
		})
	}
}
