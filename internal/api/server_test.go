package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"campus/internal/database"
	"campus/internal/presence"
	"campus/internal/reminder"
	dbconfig "campus/pkg/database"
	"campus/pkg/types"
)

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

type fakeReminders struct {
	report reminder.TickReport
	ticked bool
}

func (f *fakeReminders) Running() bool { return true }

func (f *fakeReminders) LastTick() (reminder.TickReport, bool) { return f.report, f.ticked }

type testEnv struct {
	server   *Server
	store    *database.Manager
	presence *presence.Manager
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "api.db")
	store, err := database.NewManager(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if _, err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pm := presence.NewManager(zerolog.Nop())
	server := NewServer(Options{
		Store:       store,
		Presence:    pm,
		Connections: fixedCounter(3),
		Reminders:   &fakeReminders{report: reminder.TickReport{Scanned: 4, Sent: 1}, ticked: true},
	}, zerolog.Nop())

	return &testEnv{server: server, store: store, presence: pm}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func (e *testEnv) upload(t *testing.T, email, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if email != "" {
		_ = mw.WriteField("email", email)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/timetable/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(t, req)
}

func (e *testEnv) createUser(t *testing.T, email string) {
	t.Helper()
	err := e.store.CreateUser(context.Background(), &types.User{Email: email, Username: "user", PasswordHash: "secret"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("Expected status %d, got %d: %s", code, w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", w.Body.String(), err)
	}
}

const sampleCSV = "\ufeffCourse Name,Day,Start Time,End Time,Location\n" +
	"高等数学,周一,08:00,09:35,A101\n" +
	" Physics , Tue ,10:00,11:35,\n"

// FUNCTIONAL VALIDATION TEST: Registration and login
func TestServer_RegisterLogin(t *testing.T) {
	env := setupServer(t)

	w := env.postJSON(t, http.MethodPost, "/api/register", `{"username":"Alice","email":"alice@example.com","password":"pw1"}`)
	expectStatus(t, w, http.StatusOK)

	w = env.postJSON(t, http.MethodPost, "/api/register", `{"username":"Again","email":"alice@example.com","password":"pw2"}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = env.postJSON(t, http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"pw1"}`)
	expectStatus(t, w, http.StatusOK)
	var resp UserResponse
	decode(t, w, &resp)
	if resp.User == nil || resp.User.Username != "Alice" || resp.User.Email != "alice@example.com" {
		t.Errorf("Unexpected login response %+v", resp.User)
	}
	if strings.Contains(w.Body.String(), "pw1") {
		t.Error("Password leaked in login response")
	}
	stored, err := env.store.GetUser(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.PasswordHash == "pw1" {
		t.Error("Password stored in plaintext")
	}

	w = env.postJSON(t, http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"wrong"}`)
	expectStatus(t, w, http.StatusUnauthorized)

	w = env.postJSON(t, http.MethodPost, "/api/login", `{"email":"nobody@example.com","password":"pw1"}`)
	expectStatus(t, w, http.StatusUnauthorized)
}

// FUNCTIONAL VALIDATION TEST: Request validation reports fields
func TestServer_RegisterValidation(t *testing.T) {
	env := setupServer(t)

	w := env.postJSON(t, http.MethodPost, "/api/register", `{"username":"","email":"not-an-email","password":"x"}`)
	expectStatus(t, w, http.StatusBadRequest)

	var resp ErrorResponse
	decode(t, w, &resp)
	if _, ok := resp.Fields["email"]; !ok {
		t.Errorf("Expected email field error, got %+v", resp.Fields)
	}
	if _, ok := resp.Fields["username"]; !ok {
		t.Errorf("Expected username field error, got %+v", resp.Fields)
	}

	w = env.postJSON(t, http.MethodPost, "/api/register", `{not json`)
	expectStatus(t, w, http.StatusBadRequest)
}

// FUNCTIONAL VALIDATION TEST: Video room presence
func TestServer_VideoPresence(t *testing.T) {
	env := setupServer(t)

	expectStatus(t, env.postJSON(t, http.MethodPost, "/api/video/register", `{"username":"bob","peer_id":"p-2"}`), http.StatusOK)
	expectStatus(t, env.postJSON(t, http.MethodPost, "/api/video/register", `{"username":"alice","peer_id":"p-1"}`), http.StatusOK)
	expectStatus(t, env.postJSON(t, http.MethodPost, "/api/video/register", `{"username":"carol"}`), http.StatusBadRequest)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/video/users", nil))
	expectStatus(t, w, http.StatusOK)
	var resp struct {
		Users []struct {
			Username string `json:"username"`
			PeerID   string `json:"peer_id"`
		} `json:"users"`
	}
	decode(t, w, &resp)
	if len(resp.Users) != 2 || resp.Users[0].Username != "alice" || resp.Users[0].PeerID != "p-1" {
		t.Errorf("Unexpected users %+v", resp.Users)
	}

	expectStatus(t, env.postJSON(t, http.MethodPost, "/api/video/unregister", `{"username":"alice"}`), http.StatusOK)
	expectStatus(t, env.postJSON(t, http.MethodPost, "/api/video/unregister", `{"username":"alice"}`), http.StatusOK)
	if env.presence.Count() != 1 {
		t.Errorf("Expected 1 user left, got %d", env.presence.Count())
	}
}

// FUNCTIONAL VALIDATION TEST: CSV upload replaces the timetable
func TestServer_TimetableUpload(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice@example.com")

	w := env.upload(t, "alice@example.com", "timetable.csv", sampleCSV)
	expectStatus(t, w, http.StatusOK)
	var up UploadResponse
	decode(t, w, &up)
	if up.EntriesCount != 2 {
		t.Errorf("Expected 2 entries, got %d", up.EntriesCount)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/timetable?email=alice@example.com", nil))
	expectStatus(t, w, http.StatusOK)
	var tt TimetableResponse
	decode(t, w, &tt)
	if len(tt.Timetable) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(tt.Timetable))
	}
	if tt.Timetable[0].CourseName != "高等数学" || tt.Timetable[0].DayOfWeek != "周一" {
		t.Errorf("Unexpected first entry %+v", tt.Timetable[0])
	}
	if tt.Timetable[1].CourseName != "Physics" || tt.Timetable[1].DayOfWeek != "Tue" || tt.Timetable[1].Location != "" {
		t.Errorf("Cells should be trimmed, got %+v", tt.Timetable[1])
	}

	w = env.upload(t, "alice@example.com", "timetable.csv", "Course Name,Day,Start Time,End Time,Location\nArt,Fri,14:00,15:00,B2\n")
	expectStatus(t, w, http.StatusOK)
	entries, err := env.store.GetTimetable(context.Background(), "alice@example.com")
	if err != nil || len(entries) != 1 || entries[0].CourseName != "Art" {
		t.Errorf("Upload should replace the timetable, got %v %v", entries, err)
	}
}

// FUNCTIONAL VALIDATION TEST: Upload rejections
func TestServer_TimetableUploadErrors(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice@example.com")

	cases := []struct {
		name     string
		email    string
		filename string
		content  string
		code     int
	}{
		{"not csv", "alice@example.com", "timetable.xlsx", sampleCSV, http.StatusBadRequest},
		{"missing column", "alice@example.com", "t.csv", "Course Name,Day,Start Time\nA,Mon,08:00\n", http.StatusBadRequest},
		{"not utf8", "alice@example.com", "t.csv", "Course Name,Day,Start Time,End Time,Location\n\xb8\xdf,Mon,08:00,09:00,A\n", http.StatusBadRequest},
		{"empty", "alice@example.com", "t.csv", "", http.StatusBadRequest},
		{"no email", "", "t.csv", sampleCSV, http.StatusBadRequest},
		{"unknown user", "ghost@example.com", "t.csv", sampleCSV, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.upload(t, tc.email, tc.filename, tc.content)
			expectStatus(t, w, tc.code)
		})
	}

	w := env.upload(t, "alice@example.com", "t.csv", "Course Name,Day\nA,Mon\n")
	var resp ErrorResponse
	decode(t, w, &resp)
	if !strings.Contains(resp.Message, "Start Time") || !strings.Contains(resp.Message, "Location") {
		t.Errorf("Missing columns should be named, got %q", resp.Message)
	}
}

// FUNCTIONAL VALIDATION TEST: Timetable lookup misses
func TestServer_GetTimetableNotFound(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice@example.com")

	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/timetable?email=ghost@example.com", nil)), http.StatusNotFound)
	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/timetable?email=alice@example.com", nil)), http.StatusNotFound)
	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/timetable", nil)), http.StatusBadRequest)
}

// FUNCTIONAL VALIDATION TEST: Single entry add, edit and delete
func TestServer_EntryCRUD(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice@example.com")
	env.createUser(t, "bob@example.com")
	ctx := context.Background()

	w := env.postJSON(t, http.MethodPost, "/api/timetable/entries",
		`{"email":"alice@example.com","course_name":"Chemistry","day_of_week":"周三","start_time":"08:00","end_time":"09:35","location":"C3"}`)
	expectStatus(t, w, http.StatusCreated)
	var created EntryResponse
	decode(t, w, &created)
	id := created.Entry.ID
	if id == "" {
		t.Fatal("Expected entry ID")
	}

	w = env.postJSON(t, http.MethodPost, "/api/timetable/entries",
		`{"email":"alice@example.com","course_name":"Bad","day_of_week":"Someday","start_time":"8点","end_time":"09:35"}`)
	expectStatus(t, w, http.StatusBadRequest)
	var verr ErrorResponse
	decode(t, w, &verr)
	if _, ok := verr.Fields["start_time"]; !ok {
		t.Errorf("Expected start_time field error, got %+v", verr.Fields)
	}

	markNotified := func() {
		t.Helper()
		if _, err := env.store.MutateScheduleEntry(ctx, id, func(e *types.ScheduleEntry) { e.LastNotified = "2024-03-06" }); err != nil {
			t.Fatal(err)
		}
	}

	// Renaming keeps the watermark.
	markNotified()
	w = env.postJSON(t, http.MethodPut, "/api/timetable/entries/"+id,
		`{"email":"alice@example.com","course_name":"Organic Chemistry","day_of_week":"周三","start_time":"08:00","end_time":"09:35","location":"C3"}`)
	expectStatus(t, w, http.StatusOK)
	if got, _ := env.store.GetScheduleEntry(ctx, id); got.LastNotified != "2024-03-06" || got.CourseName != "Organic Chemistry" {
		t.Errorf("Rename should keep watermark, got %+v", got)
	}

	// Equivalent labels for the same slot keep it.
	w = env.postJSON(t, http.MethodPut, "/api/timetable/entries/"+id,
		`{"email":"alice@example.com","course_name":"Organic Chemistry","day_of_week":"Wednesday","start_time":"8:00","end_time":"09:35","location":"C3"}`)
	expectStatus(t, w, http.StatusOK)
	if got, _ := env.store.GetScheduleEntry(ctx, id); got.LastNotified != "2024-03-06" || got.DayOfWeek != "Wednesday" {
		t.Errorf("Relabeling the same slot should keep watermark, got %+v", got)
	}

	// Moving the start time clears it.
	w = env.postJSON(t, http.MethodPut, "/api/timetable/entries/"+id,
		`{"email":"alice@example.com","course_name":"Organic Chemistry","day_of_week":"周三","start_time":"10:00","end_time":"11:35","location":"C3"}`)
	expectStatus(t, w, http.StatusOK)
	if got, _ := env.store.GetScheduleEntry(ctx, id); got.LastNotified != "" || got.StartTime != "10:00" {
		t.Errorf("Move should clear watermark, got %+v", got)
	}

	w = env.postJSON(t, http.MethodPut, "/api/timetable/entries/"+id,
		`{"email":"bob@example.com","course_name":"Hijack","day_of_week":"周三","start_time":"10:00","end_time":"11:35"}`)
	expectStatus(t, w, http.StatusNotFound)

	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodDelete, "/api/timetable/entries/"+id+"?email=bob@example.com", nil)), http.StatusNotFound)
	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodDelete, "/api/timetable/entries/"+id+"?email=alice@example.com", nil)), http.StatusOK)
	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodDelete, "/api/timetable/entries/"+id+"?email=alice@example.com", nil)), http.StatusNotFound)

	if _, err := env.store.GetScheduleEntry(ctx, id); err == nil {
		t.Error("Entry should be gone")
	}
}

// FUNCTIONAL VALIDATION TEST: Task CRUD with form bodies
func TestServer_Tasks(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice@example.com")

	form := url.Values{
		"email":       {"alice@example.com"},
		"title":       {"Essay"},
		"description": {"History essay"},
		"due_date":    {"2024-05-01"},
	}
	w := env.postForm(t, "/api/tasks/add", form)
	expectStatus(t, w, http.StatusOK)
	var added TaskResponse
	decode(t, w, &added)
	taskID := added.Task.ID

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?email=alice@example.com", nil))
	expectStatus(t, w, http.StatusOK)
	var list TasksResponse
	decode(t, w, &list)
	if len(list.Tasks) != 1 || list.Tasks[0].Title != "Essay" {
		t.Fatalf("Unexpected tasks %+v", list.Tasks)
	}

	edit := url.Values{
		"email":       {"alice@example.com"},
		"task_id":     {taskID},
		"title":       {"Long essay"},
		"description": {"History essay"},
		"due_date":    {"2024-05-08"},
	}
	expectStatus(t, env.postForm(t, "/api/tasks/edit", edit), http.StatusOK)

	tasks, err := env.store.ListTasks(context.Background(), "alice@example.com")
	if err != nil || tasks[0].Title != "Long essay" || tasks[0].DueDate != "2024-05-08" {
		t.Errorf("Edit not applied: %+v %v", tasks, err)
	}

	del := url.Values{"email": {"alice@example.com"}, "task_id": {taskID}}
	expectStatus(t, env.postForm(t, "/api/tasks/delete", del), http.StatusOK)
	expectStatus(t, env.postForm(t, "/api/tasks/delete", del), http.StatusNotFound)
}

// FUNCTIONAL VALIDATION TEST: Task input errors map to 400, 422 and 404
func TestServer_TaskErrors(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice@example.com")

	base := func() url.Values {
		return url.Values{
			"email":       {"alice@example.com"},
			"title":       {"Essay"},
			"description": {"History"},
			"due_date":    {"2024-05-01"},
		}
	}

	empty := base()
	empty.Set("title", "   ")
	expectStatus(t, env.postForm(t, "/api/tasks/add", empty), http.StatusBadRequest)

	badDate := base()
	badDate.Set("due_date", "05/01/2024")
	expectStatus(t, env.postForm(t, "/api/tasks/add", badDate), http.StatusUnprocessableEntity)

	ghost := base()
	ghost.Set("email", "ghost@example.com")
	expectStatus(t, env.postForm(t, "/api/tasks/add", ghost), http.StatusNotFound)

	noID := base()
	expectStatus(t, env.postForm(t, "/api/tasks/edit", noID), http.StatusBadRequest)

	unknown := base()
	unknown.Set("task_id", "does-not-exist")
	expectStatus(t, env.postForm(t, "/api/tasks/edit", unknown), http.StatusNotFound)

	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?email=ghost@example.com", nil)), http.StatusNotFound)
}

// FUNCTIONAL VALIDATION TEST: Chat history endpoint
func TestServer_ChatMessages(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		msg := &types.ChatMessage{SenderEmail: "a@example.com", Username: "a", Content: content, Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := env.store.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/messages?limit=2", nil))
	expectStatus(t, w, http.StatusOK)
	var resp ChatMessagesResponse
	decode(t, w, &resp)
	if len(resp.Messages) != 2 || resp.Messages[0].Content != "two" || resp.Messages[1].Content != "three" {
		t.Errorf("Expected last two messages oldest first, got %+v", resp.Messages)
	}

	expectStatus(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/messages?limit=abc", nil)), http.StatusBadRequest)
}

// FUNCTIONAL VALIDATION TEST: GET /health endpoint
func TestServer_HealthCheck(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	expectStatus(t, w, http.StatusOK)

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" || resp.Database != "healthy" {
		t.Errorf("Unexpected health %+v", resp)
	}
	if resp.Connections != 3 {
		t.Errorf("Expected 3 connections, got %d", resp.Connections)
	}
	if resp.Reminders == nil || resp.Reminders.LastTick == nil || resp.Reminders.LastTick.Sent != 1 {
		t.Errorf("Expected reminder status, got %+v", resp.Reminders)
	}

	_ = env.store.Close()
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	expectStatus(t, w, http.StatusServiceUnavailable)
}

// TECHNICAL VALIDATION TEST: Method checks and CORS preflight
func TestServer_MethodsAndCORS(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/login", nil))
	expectStatus(t, w, http.StatusMethodNotAllowed)

	w = env.do(t, httptest.NewRequest(http.MethodOptions, "/api/tasks/add", nil))
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}

	w = env.do(t, httptest.NewRequest(http.MethodPatch, "/api/timetable/entries/abc", nil))
	expectStatus(t, w, http.StatusMethodNotAllowed)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

// TECHNICAL VALIDATION TEST: CSV parsing edge cases
func TestParseTimetableCSV(t *testing.T) {
	entries, err := parseTimetableCSV([]byte("Location,Course Name,Day,Start Time,End Time,Teacher\nA1,Math,Mon,8:00\n"))
	if err != nil {
		t.Fatalf("Short rows should parse: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Location != "A1" || e.CourseName != "Math" || e.StartTime != "8:00" || e.EndTime != "" {
		t.Errorf("Columns mapped by header, got %+v", e)
	}

	entries, err = parseTimetableCSV([]byte("Course Name,Day,Start Time,End Time,Location\n"))
	if err != nil || len(entries) != 0 {
		t.Errorf("Header-only file should yield no entries, got %v %v", entries, err)
	}

	if _, err := parseTimetableCSV([]byte("Course Name,Day\n")); !errors.Is(err, errMissingCols) {
		t.Errorf("Expected errMissingCols, got %v", err)
	}
	if _, err := parseTimetableCSV([]byte("Course Name,Day,Start Time,End Time,Location\n\"unterminated,Mon\n")); !errors.Is(err, errMalformedCSV) {
		t.Errorf("Expected errMalformedCSV, got %v", err)
	}
}
