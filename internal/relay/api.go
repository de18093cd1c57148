package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/omochice/cipherchat/internal/api"
	"github.com/omochice/cipherchat/pkg/protocol"
)

type identityKey struct{}

func identityFrom(ctx context.Context) (protocol.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(protocol.Identity)
	return identity, ok
}

// authenticate resolves the bearer credential of every request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer credential")
			return
		}
		identity, err := s.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			s.log.Debug("credential rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	s.hub.Enroll(identity)
	rooms := s.hub.Rooms(identity.ID)
	if rooms == nil {
		rooms = []protocol.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := s.hub.Profile(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	id := chi.URLParam(r, "id")
	if id != identity.ID {
		writeError(w, http.StatusForbidden, "cannot update another identity's profile")
		return
	}

	var p api.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.ID = id
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.hub.PutProfile(p))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
