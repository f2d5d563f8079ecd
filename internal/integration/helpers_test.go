package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"campus/internal/app"
	"campus/internal/config"
)

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

// testConfig returns a config bound to loopback with a throwaway database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "campus.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Scheduler.Enabled = false
	return cfg
}

// startApp builds and starts the whole server, stopping it at cleanup.
func startApp(t *testing.T, cfg *config.Config) (*app.Application, string) {
	t.Helper()
	application, err := app.NewApplication(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application, application.Addr()
}

func postJSON(t *testing.T, addr, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post("http://"+addr+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, addr, path string, v interface{}) int {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s: invalid JSON: %v", path, err)
		}
	}
	return resp.StatusCode
}

func register(t *testing.T, addr, username, email string) {
	t.Helper()
	resp := postJSON(t, addr, "/api/register",
		fmt.Sprintf(`{"username":%q,"email":%q,"password":"pw"}`, username, email))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Register %s: status %d", email, resp.StatusCode)
	}
}

func uploadCSV(t *testing.T, addr, email, content string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("email", email)
	fw, _ := mw.CreateFormFile("file", "timetable.csv")
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()

	resp, err := http.Post("http://"+addr+"/api/timetable/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Upload: status %d", resp.StatusCode)
	}
}

func dialChat(t *testing.T, addr, email string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/chat/?user_email="+email, nil)
	if err != nil {
		t.Fatalf("Dial as %s: %v", email, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return frame
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
