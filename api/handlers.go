package api

import (
	"net/http"
	"strings"

	"EVote/control"
	"EVote/model"
)

type loginRequest struct {
	VotersID string `json:"voters_id"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Login(r.Context(), req.VotersID, req.Password)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleBallot GET /api/ballot?token=...，也接受 Authorization 头
func (s *Server) handleBallot(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearer(r)
	}
	b, err := s.engine.AssembleBallot(r.Context(), token)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

type voteRequest struct {
	Token string           `json:"token"`
	Votes model.Submission `json:"votes"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = bearer(r)
	}
	receipt, err := s.engine.CastBallot(r.Context(), req.Token, req.Votes)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.engine.ElectionTitle(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"title": title})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireAdmin 管理接口需要 Authorization: Bearer <admin token>
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, err := s.engine.AuthorizeAdmin(bearer(r))
		if err != nil {
			s.respondErr(w, r, control.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAdmin(r, username)))
	})
}
