package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// mockResponseWriter implements http.Flusher for testing.
type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() {
	m.flushed++
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

func TestNewSSEWriter(t *testing.T) {
	w := newMockResponseWriter()
	sse, err := newSSEWriter(w)
	if err != nil {
		t.Fatalf("newSSEWriter failed: %v", err)
	}
	if sse == nil {
		t.Fatal("SSE writer should not be nil")
	}
}

func TestNewSSEWriter_NoFlusher(t *testing.T) {
	// Use a writer that doesn't implement Flusher
	w := &noFlushWriter{}
	_, err := newSSEWriter(w)
	if err == nil {
		t.Error("Expected error for writer without Flusher")
	}
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestSSEWriter_WriteEvent(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	data := map[string]string{"message": "hello"}
	err := sse.writeEvent("test", data)
	if err != nil {
		t.Fatalf("writeEvent failed: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: test\n") {
		t.Error("Expected event line")
	}
	if !strings.Contains(body, `"message":"hello"`) {
		t.Error("Expected data to contain message")
	}
	if w.flushed == 0 {
		t.Error("Expected Flush to be called")
	}
}

func TestSSEWriter_WriteHeartbeat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	sse.writeHeartbeat()

	body := w.Body.String()
	if !strings.Contains(body, ": heartbeat\n") {
		t.Errorf("Expected heartbeat comment, got: %s", body)
	}
	if w.flushed == 0 {
		t.Error("Expected Flush to be called")
	}
}

func TestSSEEventFormat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	testData := struct {
		Type string `json:"type"`
		ID   int    `json:"id"`
	}{
		Type: "test",
		ID:   123,
	}

	sse.writeEvent("message", testData)

	body := w.Body.String()

	// Check SSE format: event line, data line, empty line
	lines := strings.Split(body, "\n")
	if len(lines) < 3 {
		t.Fatalf("Expected at least 3 lines, got %d", len(lines))
	}

	if !strings.HasPrefix(lines[0], "event: ") {
		t.Errorf("First line should be event, got: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "data: ") {
		t.Errorf("Second line should be data, got: %s", lines[1])
	}
	if lines[2] != "" {
		t.Errorf("Third line should be empty, got: %s", lines[2])
	}
}

func TestEventBelongsToSession(t *testing.T) {
	tests := []struct {
		name      string
		event     event.Event
		sessionID string
		expected  bool
	}{
		{
			name: "chunk matches",
			event: event.Event{
				Type: event.AgentChunk,
				Data: event.AgentChunkData{
					Chunk: types.Chunk{SessionID: "session-123", Content: "hi"},
				},
			},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name: "chunk no match",
			event: event.Event{
				Type: event.AgentChunk,
				Data: event.AgentChunkData{
					Chunk: types.Chunk{SessionID: "session-456", Content: "hi"},
				},
			},
			sessionID: "session-123",
			expected:  false,
		},
		{
			name: "status matches",
			event: event.Event{
				Type: event.SessionStatus,
				Data: event.SessionStatusData{SessionID: "session-123", Status: types.StatusRunning},
			},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name: "created matches by info id",
			event: event.Event{
				Type: event.SessionCreated,
				Data: event.SessionCreatedData{Info: types.Session{ID: "session-123"}},
			},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name: "queue matches",
			event: event.Event{
				Type: event.QueueChanged,
				Data: event.QueueChangedData{SessionID: "session-123", Pending: 2, Total: 3},
			},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name: "stderr no match",
			event: event.Event{
				Type: event.AgentStderr,
				Data: event.AgentStderrData{Line: types.StderrLine{SessionID: "other"}},
			},
			sessionID: "session-123",
			expected:  false,
		},
		{
			name: "list change is global",
			event: event.Event{
				Type: event.SessionListChanged,
				Data: event.SessionListChangedData{},
			},
			sessionID: "session-123",
			expected:  false,
		},
		{
			name: "task feed is global",
			event: event.Event{
				Type: event.TaskListChanged,
				Data: event.TaskListChangedData{},
			},
			sessionID: "session-123",
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eventBelongsToSession(tt.event, tt.sessionID)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestEvents_Headers(t *testing.T) {
	event.Reset()
	srv := &Server{}

	ts := httptest.NewServer(http.HandlerFunc(srv.events))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected Content-Type text/event-stream, got: %s", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Expected Cache-Control no-cache, got: %s", cc)
	}
}

// streamLines collects SSE stream lines until the request context ends.
type streamLines struct {
	mu    sync.Mutex
	lines []string
}

func (s *streamLines) add(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *streamLines) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func openStream(t *testing.T, url string, timeout time.Duration) (*streamLines, *sync.WaitGroup, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		cancel()
		t.Fatalf("Failed to create request: %v", err)
	}

	collected := &streamLines{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			collected.add(scanner.Text())
		}
	}()

	return collected, &wg, cancel
}

func waitForLine(t *testing.T, collected *streamLines, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if collected.contains(substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Did not observe %q on the stream", substr)
}

func TestEvents_StreamsChunks(t *testing.T) {
	event.Reset()
	srv := &Server{}

	ts := httptest.NewServer(http.HandlerFunc(srv.events))
	defer ts.Close()

	collected, wg, cancel := openStream(t, ts.URL, 5*time.Second)
	defer func() {
		cancel()
		wg.Wait()
	}()

	// The connected frame is written synchronously before any events.
	waitForLine(t, collected, "server.connected")

	event.PublishSync(event.Event{
		Type: event.AgentChunk,
		Data: event.AgentChunkData{
			Chunk: types.Chunk{SessionID: "s-1", Content: "streamed text"},
		},
	})

	waitForLine(t, collected, "streamed text")
	waitForLine(t, collected, "agent.chunk")
}

func TestEvents_SessionFilter(t *testing.T) {
	event.Reset()
	srv := &Server{}

	ts := httptest.NewServer(http.HandlerFunc(srv.events))
	defer ts.Close()

	collected, wg, cancel := openStream(t, ts.URL+"?session=s-1", 5*time.Second)
	defer func() {
		cancel()
		wg.Wait()
	}()

	waitForLine(t, collected, "server.connected")

	event.PublishSync(event.Event{
		Type: event.AgentChunk,
		Data: event.AgentChunkData{
			Chunk: types.Chunk{SessionID: "s-2", Content: "other session text"},
		},
	})
	event.PublishSync(event.Event{
		Type: event.AgentChunk,
		Data: event.AgentChunkData{
			Chunk: types.Chunk{SessionID: "s-1", Content: "my session text"},
		},
	})

	waitForLine(t, collected, "my session text")

	if collected.contains("other session text") {
		t.Error("Should not have received events for session s-2")
	}
}
