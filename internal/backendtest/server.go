// Package backendtest runs an in-memory ChatterBox backend on an httptest
// server. It speaks the HTTP API and socket protocol the client consumes.
package backendtest

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

type ApiError struct {
	Code    int    `json:"-"`
	Message string `json:"message"`
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *ApiError {
	return &ApiError{Code: http.StatusBadRequest, Message: message}
}

func NewUnauthorizedError(message string) *ApiError {
	return &ApiError{Code: http.StatusUnauthorized, Message: message}
}

func NewForbiddenError(message string) *ApiError {
	return &ApiError{Code: http.StatusForbidden, Message: message}
}

func NewNotFoundError(message string) *ApiError {
	return &ApiError{Code: http.StatusNotFound, Message: message}
}

func NewInternalServerError() *ApiError {
	return &ApiError{
		Code:    http.StatusInternalServerError,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}

// envelope is the wrapper the auth endpoints put around their payload.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

type Server struct {
	log    *log.Logger
	srv    *httptest.Server
	secret []byte
	sid    *shortid.Shortid
	hub    *hub

	mu      sync.Mutex
	users   map[string]*userRecord
	byEmail map[string]string
	rooms   map[string]*roomRecord
	order   []string
	now     func() time.Time
}

// New starts a backend. Call Close when done.
func New(logger *log.Logger) *Server {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic(err)
	}

	s := &Server{
		log:     logger,
		secret:  []byte("backendtest-signing-secret"),
		sid:     sid,
		users:   make(map[string]*userRecord),
		byEmail: make(map[string]string),
		rooms:   make(map[string]*roomRecord),
		now:     time.Now,
	}
	s.hub = newHub(logger, s)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/logout", s.logout)
	mux.HandleFunc("GET /api/auth/profile", s.authenticated(s.profile))
	mux.HandleFunc("PUT /api/auth/profile", s.authenticated(s.updateProfile))
	mux.HandleFunc("GET /api/users/{id}", s.authenticated(s.getUser))
	mux.HandleFunc("GET /api/rooms", s.authenticated(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authenticated(s.createRoom))
	mux.HandleFunc("GET /api/rooms/{id}", s.authenticated(s.getRoom))
	mux.HandleFunc("POST /api/rooms/{id}/join", s.authenticated(s.joinRoom))
	mux.HandleFunc("POST /api/rooms/{id}/leave", s.authenticated(s.leaveRoom))
	mux.HandleFunc("PATCH /api/rooms/{id}/status", s.authenticated(s.updateRoomStatus))
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.authenticated(s.postMessage))
	mux.HandleFunc("GET /socket", s.authenticated(s.hub.serveWs))

	s.srv = httptest.NewServer(handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger),
		handlers.PrintRecoveryStack(true),
	)(mux))

	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

// SocketURL is the websocket endpoint of the real-time channel.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/socket"
}

func (s *Server) Close() {
	s.hub.closeAll()
	s.srv.Close()
}

// DropConnections cuts every open socket without a close handshake.
func (s *Server) DropConnections() {
	s.hub.closeAll()
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	return s.hub.count()
}

func (s *Server) newRoomId() string {
	id, err := s.sid.Generate()
	if err != nil {
		s.log.Println("generate room id:", err)
		return strings.ReplaceAll(s.now().Format("150405.000000"), ".", "")
	}
	return id
}

func writeJson(l *log.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.Println("encode response:", err)
	}
}

func writeError(l *log.Logger, w http.ResponseWriter, e *ApiError) {
	writeJson(l, w, e.Code, e)
}

// writeEnvelopeError reports a failure the way the auth endpoints do.
func writeEnvelopeError(l *log.Logger, w http.ResponseWriter, e *ApiError) {
	writeJson(l, w, e.Code, envelope{Success: false, Message: e.Message})
}
