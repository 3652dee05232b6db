package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// RemoteServer is an in-process fake of the remote execution service. It
// runs commands for real with sh in a temporary root, so the remote backend
// can be tested end to end.
type RemoteServer struct {
	URL    string
	Root   string
	APIKey string

	// ExecuteAsync makes /execute answer "running" immediately so clients
	// must poll for the result.
	ExecuteAsync bool

	srv *httptest.Server

	mu       sync.Mutex
	procs    map[string]*fakeProcess
	failures map[string][]int
	requests map[string]int
	nextID   int
}

type fakeProcess struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *lockedBuffer
	stderr *lockedBuffer

	mu     sync.Mutex
	status string
	code   *int
	killed bool
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type processJSON struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   *int   `json:"code,omitempty"`
}

// NewRemoteServer starts a fake service rooted at a fresh temp directory.
// An empty apiKey disables authentication.
func NewRemoteServer(t *testing.T, apiKey string) *RemoteServer {
	t.Helper()

	s := &RemoteServer{
		Root:     t.TempDir(),
		APIKey:   apiKey,
		procs:    make(map[string]*fakeProcess),
		failures: make(map[string][]int),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /spawn", s.handleSpawn)
	mux.HandleFunc("GET /process/{id}", s.handleStatus)
	mux.HandleFunc("POST /process/{id}/input", s.handleInput)
	mux.HandleFunc("DELETE /process/{id}", s.handleKill)

	s.srv = httptest.NewServer(s.middleware(mux))
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next n requests matching route (e.g. "POST /execute")
// fail with status.
func (s *RemoteServer) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures[route] = append(s.failures[route], status)
	}
}

// Requests returns how many requests matching route were received,
// including injected failures.
func (s *RemoteServer) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Close kills every process and stops the server.
func (s *RemoteServer) Close() {
	s.mu.Lock()
	procs := make([]*fakeProcess, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		p.kill()
	}
	s.srv.Close()
}

func (s *RemoteServer) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + routeOf(r.URL.Path)

		s.mu.Lock()
		s.requests[route]++
		var injected int
		if queue := s.failures[route]; len(queue) > 0 {
			injected = queue[0]
			s.failures[route] = queue[1:]
		}
		s.mu.Unlock()

		if injected != 0 {
			writeError(w, injected, "injected failure")
			return
		}
		if s.APIKey != "" && r.Header.Get("X-API-Key") != s.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeOf collapses process ids so routes can be counted.
func routeOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "process" {
		parts[1] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *RemoteServer) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("proc-%d", s.nextID)
}

func (s *RemoteServer) register(p *fakeProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[p.id] = p
}

func (s *RemoteServer) lookup(id string) (*fakeProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	return p, ok
}

func (s *RemoteServer) start(id, name string, args []string, cwd string, env map[string]string) (*fakeProcess, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(env) > 0 {
		cmd.Env = cmd.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	p := &fakeProcess{
		id:     id,
		cmd:    cmd,
		stdout: &lockedBuffer{},
		stderr: &lockedBuffer{},
		status: "running",
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.register(p)

	go func() {
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()

		p.mu.Lock()
		defer p.mu.Unlock()
		switch {
		case p.killed:
			p.status = "terminated"
		case err == nil:
			p.status = "completed"
		default:
			p.status = "failed"
		}
		p.code = &code
	}()
	return p, nil
}

func (p *fakeProcess) snapshot() processJSON {
	p.mu.Lock()
	defer p.mu.Unlock()
	return processJSON{
		ID:     p.id,
		Status: p.status,
		Stdout: p.stdout.String(),
		Stderr: p.stderr.String(),
		Code:   p.code,
	}
}

func (p *fakeProcess) finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code != nil
}

func (p *fakeProcess) kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	if p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (s *RemoteServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string            `json:"command"`
		Cwd     string            `json:"cwd"`
		Env     map[string]string `json:"env"`
		Timeout int64             `json:"timeout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.start(s.newID(), "sh", []string{"-c", req.Command}, req.Cwd, req.Env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.ExecuteAsync {
		writeJSON(w, http.StatusOK, processJSON{ID: p.id, Status: "running"})
		return
	}

	deadline := time.Now().Add(time.Minute)
	if req.Timeout > 0 {
		deadline = time.Now().Add(time.Duration(req.Timeout) * time.Millisecond)
	}
	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()

	for !p.finished() {
		select {
		case <-ctx.Done():
			p.kill()
			writeError(w, http.StatusGatewayTimeout, "command timed out")
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
	writeJSON(w, http.StatusOK, p.snapshot())
}

func (s *RemoteServer) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Cwd     string            `json:"cwd"`
		Env     map[string]string `json:"env"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.start(s.newID(), req.Command, req.Args, req.Cwd, req.Env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, processJSON{ID: p.id, Status: "running"})
}

func (s *RemoteServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such process")
		return
	}
	writeJSON(w, http.StatusOK, p.snapshot())
}

func (s *RemoteServer) handleInput(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such process")
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := io.WriteString(p.stdin, req.Input); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *RemoteServer) handleKill(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such process")
		return
	}
	p.kill()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
