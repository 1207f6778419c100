package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/store"
)

// sessionMiddleware loads the session, applies the lifecycle rules and
// persists the state again when a refresh was attempted
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.FromContext(ctx)

		loaded, err := s.store.Load(ctx, r)
		switch {
		case errors.Is(err, store.ErrInvalidSession):
			logger.WithError(err).Warn("Discarding unreadable session")
			if cerr := s.store.Clear(ctx, w, r); cerr != nil {
				logger.WithError(cerr).Warn("Failed to clear session")
			}
			loaded = nil
		case err != nil:
			// the cookie is kept so the session survives a store outage
			logger.WithError(err).Error("Failed to load session")
			loaded = nil
		}

		if loaded != nil {
			current, refreshed, _ := s.sessions.Ensure(ctx, *loaded)
			if refreshed {
				if err := s.store.Save(ctx, w, r, &current); err != nil {
					logger.WithError(err).Error("Failed to save refreshed session")
				}
			}
			ctx = session.NewContext(ctx, &current)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
