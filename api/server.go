// Package api 提供 REST 接口和 /graphql 入口
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"EVote/control"
	"EVote/db"
	"EVote/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	adminKey
)

// Server REST 路由，所有业务都交给 engine
type Server struct {
	engine *control.Engine
	store  *db.Store
	log    *logrus.Logger
	router *mux.Router
}

func NewServer(engine *control.Engine, store *db.Store, schema *graphql.Schema, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{engine: engine, store: store, log: log, router: mux.NewRouter()}
	s.routes(schema)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(schema *graphql.Schema) {
	r := s.router
	r.Use(s.requestLogger, cors)

	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if schema != nil {
		r.Handle("/graphql", handler.New(&handler.Config{Schema: schema, Pretty: true}))
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/ballot", s.handleBallot).Methods(http.MethodGet)
	api.HandleFunc("/vote", s.handleVote).Methods(http.MethodPost)
	api.HandleFunc("/title", s.handleGetTitle).Methods(http.MethodGet)
	api.HandleFunc("/admin/login", s.handleAdminLogin).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	admin.HandleFunc("/positions", s.handleListPositions).Methods(http.MethodGet)
	admin.HandleFunc("/positions", s.handleCreatePosition).Methods(http.MethodPost)
	admin.HandleFunc("/positions/{id:[0-9]+}", s.handleGetPosition).Methods(http.MethodGet)
	admin.HandleFunc("/positions/{id:[0-9]+}", s.handleUpdatePosition).Methods(http.MethodPut)
	admin.HandleFunc("/positions/{id:[0-9]+}", s.handleDeletePosition).Methods(http.MethodDelete)

	admin.HandleFunc("/candidates", s.handleListCandidates).Methods(http.MethodGet)
	admin.HandleFunc("/candidates", s.handleCreateCandidate).Methods(http.MethodPost)
	admin.HandleFunc("/candidates/{id:[0-9]+}", s.handleGetCandidate).Methods(http.MethodGet)
	admin.HandleFunc("/candidates/{id:[0-9]+}", s.handleUpdateCandidate).Methods(http.MethodPut)
	admin.HandleFunc("/candidates/{id:[0-9]+}", s.handleDeleteCandidate).Methods(http.MethodDelete)

	admin.HandleFunc("/voters", s.handleListVoters).Methods(http.MethodGet)
	admin.HandleFunc("/voters", s.handleCreateVoter).Methods(http.MethodPost)
	admin.HandleFunc("/voters/{id:[0-9]+}", s.handleGetVoter).Methods(http.MethodGet)
	admin.HandleFunc("/voters/{id:[0-9]+}", s.handleUpdateVoter).Methods(http.MethodPut)
	admin.HandleFunc("/voters/{id:[0-9]+}", s.handleDeleteVoter).Methods(http.MethodDelete)

	admin.HandleFunc("/votes", s.handleListVotes).Methods(http.MethodGet)
	admin.HandleFunc("/votes/reset", s.handleResetVotes).Methods(http.MethodPost)
	admin.HandleFunc("/title", s.handleGetTitle).Methods(http.MethodGet)
	admin.HandleFunc("/title", s.handleSetTitle).Methods(http.MethodPost)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger 为每个请求分配 request id 并记录耗时
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start),
		}).Debug("request served")
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}

// respondErr 按错误类型映射状态码
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code := control.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, control.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, control.ErrAlreadyVoted), errors.Is(err, control.ErrHasVotes):
		status = http.StatusConflict
	case control.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, control.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, control.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
		s.log.WithError(err).WithField("request_id", r.Context().Value(requestIDKey)).Error("request failed")
	}
	respondError(w, status, code, message)
}

// decode 拒绝未知字段；选票中的非法职位 id 按校验错误处理
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var keyErr *model.PositionKeyError
		if errors.As(err, &keyErr) {
			respondError(w, http.StatusUnprocessableEntity, "unknown_position", keyErr.Error())
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_input", "invalid request payload: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_error", "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
