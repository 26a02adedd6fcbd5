package api

import (
	"context"
	"net/http"
	"strconv"

	"EVote/control"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func withAdmin(r *http.Request, username string) context.Context {
	return context.WithValue(r.Context(), adminKey, username)
}

func adminName(r *http.Request) string {
	name, _ := r.Context().Value(adminKey).(string)
	return name
}

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func force(r *http.Request) bool {
	f, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return f
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.AdminLogin(req.Username, req.Password)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.Tally(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// ---- 职位 ----

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.ListPositions(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid position id")
		return
	}
	p, err := s.engine.GetPosition(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var in control.PositionInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.engine.CreatePosition(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid position id")
		return
	}
	var in control.PositionInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.engine.UpdatePosition(r.Context(), id, in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid position id")
		return
	}
	if err := s.engine.DeletePosition(r.Context(), id, force(r)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ---- 候选人 ----

// handleListCandidates 支持 ?position_id= 过滤
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	var positionID uint
	if raw := r.URL.Query().Get("position_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_input", "invalid position_id")
			return
		}
		positionID = uint(id)
	}
	candidates, err := s.engine.ListCandidates(r.Context(), positionID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid candidate id")
		return
	}
	c, err := s.engine.GetCandidate(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateCandidate(w http.ResponseWriter, r *http.Request) {
	var in control.CandidateInput
	if !s.decode(w, r, &in) {
		return
	}
	c, err := s.engine.CreateCandidate(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid candidate id")
		return
	}
	var in control.CandidateInput
	if !s.decode(w, r, &in) {
		return
	}
	c, err := s.engine.UpdateCandidate(r.Context(), id, in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid candidate id")
		return
	}
	if err := s.engine.DeleteCandidate(r.Context(), id, force(r)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ---- 投票人 ----

func (s *Server) handleListVoters(w http.ResponseWriter, r *http.Request) {
	voters, err := s.engine.ListVoters(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, voters)
}

func (s *Server) handleGetVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid voter id")
		return
	}
	v, err := s.engine.GetVoter(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleCreateVoter(w http.ResponseWriter, r *http.Request) {
	var in control.VoterInput
	if !s.decode(w, r, &in) {
		return
	}
	v, err := s.engine.CreateVoter(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleUpdateVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid voter id")
		return
	}
	var in control.VoterInput
	if !s.decode(w, r, &in) {
		return
	}
	v, err := s.engine.UpdateVoter(r.Context(), id, in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid voter id")
		return
	}
	if err := s.engine.DeleteVoter(r.Context(), id, force(r)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ---- 选票与标题 ----

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := s.engine.ListVotes(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, votes)
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

// handleResetVotes 需要显式确认 {"confirm": true}
func (s *Server) handleResetVotes(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Confirm {
		respondError(w, http.StatusBadRequest, "invalid_input", "confirm must be true")
		return
	}
	deleted, err := s.engine.ResetVotes(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.log.WithFields(logrus.Fields{"admin": adminName(r), "deleted": deleted}).Warn("votes reset by admin")
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.engine.SetTitle(r.Context(), req.Title)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"title": t.Header})
}
