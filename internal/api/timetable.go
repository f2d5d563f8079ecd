package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

type TimetableResponse struct {
	Timetable []*types.ScheduleEntry `json:"timetable"`
}

type UploadResponse struct {
	Message      string `json:"message"`
	EntriesCount int    `json:"entries_count"`
}

type EntryResponse struct {
	Entry *types.ScheduleEntry `json:"entry"`
}

// FUNCTIONAL DISCOVERY: POST /api/timetable/upload - the upload replaces the
// user's whole timetable and clears every reminder watermark
func (s *Server) uploadTimetable(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		s.sendError(w, "Expected a multipart form with a file and an email", http.StatusBadRequest)
		return
	}

	email := formValue(r, "email")
	if email == "" {
		s.sendError(w, "email is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.sendError(w, "Only CSV files are supported", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendError(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	entries, err := parseTimetableCSV(data)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.ReplaceTimetable(r.Context(), email, entries); err != nil {
		s.sendStoreError(w, r, err)
		return
	}

	s.log.Info().Str("email", email).Int("entries", len(entries)).Msg("timetable replaced")
	s.writeJSON(w, http.StatusOK, UploadResponse{Message: "Timetable uploaded", EntriesCount: len(entries)})
}

// GET /api/timetable?email= answers 404 both for unknown users and for empty timetables.
func (s *Server) getTimetable(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		s.sendError(w, "email is required", http.StatusBadRequest)
		return
	}

	entries, err := s.store.GetTimetable(r.Context(), email)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	if len(entries) == 0 {
		s.sendError(w, "No timetable found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, TimetableResponse{Timetable: entries})
}

// POST /api/timetable/entries appends one validated entry.
func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	trimAll(&req.Email)
	if err := types.ValidateStruct(&req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	entry := req.entry()
	if err := entry.Validate(); err != nil {
		s.sendValidationError(w, err)
		return
	}

	if err := s.store.AddScheduleEntry(r.Context(), req.Email, entry); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, EntryResponse{Entry: entry})
}

// FUNCTIONAL DISCOVERY: Handle individual entry endpoints (PUT, DELETE /api/timetable/entries/{id})
func (s *Server) handleEntryByID(w http.ResponseWriter, r *http.Request) {
	entryID := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/timetable/entries/"), "/")[0]
	if entryID == "" {
		s.sendError(w, "Entry ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		s.editEntry(w, r, entryID)
	case http.MethodDelete:
		s.deleteEntry(w, r, entryID)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// editEntry overwrites the entry's content. Moving it to another day or start
// time clears the watermark so the new slot is reminded the same day.
func (s *Server) editEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	var req EntryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	trimAll(&req.Email)
	if err := types.ValidateStruct(&req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	update := req.entry()
	if err := update.Validate(); err != nil {
		s.sendValidationError(w, err)
		return
	}

	current, err := s.store.GetScheduleEntry(r.Context(), entryID)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	if current.UserEmail != req.Email {
		s.sendStoreError(w, r, interfaces.ErrEntryNotFound)
		return
	}

	var updated types.ScheduleEntry
	found, err := s.store.MutateScheduleEntry(r.Context(), entryID, func(e *types.ScheduleEntry) {
		if !e.SameSlot(update) {
			e.LastNotified = ""
		}
		e.CourseName = update.CourseName
		e.DayOfWeek = update.DayOfWeek
		e.StartTime = update.StartTime
		e.EndTime = update.EndTime
		e.Location = update.Location
		updated = *e
	})
	if err == nil && !found {
		err = interfaces.ErrEntryNotFound
	}
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, EntryResponse{Entry: &updated})
}

// DELETE /api/timetable/entries/{id}?email=
func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		s.sendError(w, "email is required", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteScheduleEntry(r.Context(), email, entryID); err != nil {
		if !errors.Is(err, interfaces.ErrEntryNotFound) {
			s.log.Warn().Err(err).Str("entry", entryID).Msg("entry delete failed")
		}
		s.sendStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Entry deleted"})
}
