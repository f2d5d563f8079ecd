// Package api serves the campus REST endpoints and mounts the chat socket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campus/internal/reminder"
	"campus/pkg/interfaces"
	"campus/pkg/types"
)

const maxBodyBytes = 1 << 20

// ConnectionCounter reports the number of live chat channels.
type ConnectionCounter interface {
	Count() int
}

// ReminderStatus exposes the scheduler state for /health.
type ReminderStatus interface {
	Running() bool
	LastTick() (reminder.TickReport, bool)
}

// Options carries the server's collaborators. Chat and Reminders may be nil.
type Options struct {
	Store       interfaces.Store
	Presence    interfaces.PresenceManager
	Connections ConnectionCounter
	Reminders   ReminderStatus
	Chat        http.Handler
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store       interfaces.Store
	presence    interfaces.PresenceManager
	connections ConnectionCounter
	reminders   ReminderStatus
	router      *http.ServeMux
	log         zerolog.Logger
}

// NewServer wires the routes over opts.
func NewServer(opts Options, log zerolog.Logger) *Server {
	s := &Server{
		store:       opts.Store,
		presence:    opts.Presence,
		connections: opts.Connections,
		reminders:   opts.Reminders,
		router:      http.NewServeMux(),
		log:         log.With().Str("component", "api").Logger(),
	}

	s.setupRoutes(opts.Chat)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes(chat http.Handler) {
	s.handle("/api/login", http.MethodPost, s.login)
	s.handle("/api/register", http.MethodPost, s.register)

	s.handle("/api/video/register", http.MethodPost, s.videoRegister)
	s.handle("/api/video/users", http.MethodGet, s.videoUsers)
	s.handle("/api/video/unregister", http.MethodPost, s.videoUnregister)

	s.handle("/api/timetable", http.MethodGet, s.getTimetable)
	s.handle("/api/timetable/upload", http.MethodPost, s.uploadTimetable)
	s.handle("/api/timetable/entries", http.MethodPost, s.addEntry)
	s.router.Handle("/api/timetable/entries/", s.middleware(http.HandlerFunc(s.handleEntryByID)))

	s.handle("/api/tasks", http.MethodGet, s.listTasks)
	s.handle("/api/tasks/add", http.MethodPost, s.addTask)
	s.handle("/api/tasks/edit", http.MethodPost, s.editTask)
	s.handle("/api/tasks/delete", http.MethodPost, s.deleteTask)

	s.handle("/api/chat/messages", http.MethodGet, s.chatMessages)
	s.handle("/health", http.MethodGet, s.healthCheck)

	if chat != nil {
		// The upgrade needs the raw ResponseWriter, so no middleware here.
		s.router.Handle("/ws/chat/", chat)
	}
}

// handle registers a single-method route behind the shared middleware.
func (s *Server) handle(pattern, method string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})))
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return s.logMiddleware(s.corsMiddleware(s.jsonMiddleware(next)))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// MessageResponse is the body of simple acknowledgements.
type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Database    string          `json:"database"`
	Connections int             `json:"connections"`
	VideoUsers  int             `json:"video_users"`
	Reminders   *ReminderHealth `json:"reminders,omitempty"`
}

type ReminderHealth struct {
	Running  bool                 `json:"running"`
	LastTick *reminder.TickReport `json:"last_tick,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
	}
	if s.connections != nil {
		response.Connections = s.connections.Count()
	}
	if s.presence != nil {
		response.VideoUsers = len(s.presence.List())
	}
	if s.reminders != nil {
		rh := &ReminderHealth{Running: s.reminders.Running()}
		if report, ok := s.reminders.LastTick(); ok {
			rh.LastTick = &report
		}
		response.Reminders = rh
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("failed to write response")
	}
}

// decodeJSON reads a bounded JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendValidationError reports per-field messages with 400.
func (s *Server) sendValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Code:    http.StatusBadRequest,
		Message: err.Error(),
	}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	s.writeJSON(w, http.StatusBadRequest, resp)
}

// sendStoreError maps store sentinels onto status codes.
func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound):
		s.sendError(w, "User not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrEntryNotFound):
		s.sendError(w, "Timetable entry not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrTaskNotFound):
		s.sendError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrUserExists):
		s.sendError(w, "Email already registered", http.StatusBadRequest)
	case errors.Is(err, types.ErrValidation):
		s.sendValidationError(w, err)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("store operation failed")
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ev := s.log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

// formValue returns the trimmed form field.
func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}
