package httpx

import (
	"context"
	"net/http"
)

// Identity is supplied by the auth layer in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleAdmin = "admin"
)

type identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{UserID: r.Header.Get(HeaderUserID), Role: r.Header.Get(HeaderUserRole)}
		if id.UserID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r).Role != RoleAdmin {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func identityFrom(r *http.Request) identity {
	id, _ := r.Context().Value(identityKey{}).(identity)
	return id
}
