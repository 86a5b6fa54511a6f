package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// SSEEvent is one frame from the orchestrator event stream. The server
// always sends the SSE event name "message"; the semantic type lives in
// the JSON envelope ({"type": ..., "properties": ...}), so Type here is
// the envelope type. Heartbeat comments appear as Type "heartbeat".
type SSEEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// SSEClient provides SSE client utilities for testing
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	errCh    chan error
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates a new SSE test client
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		eventsCh: make(chan SSEEvent, 100),
		errCh:    make(chan error, 1),
	}
}

// Connect starts the SSE connection
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", contentType)
	}

	c.body = resp.Body

	// Start reading events in background
	go c.readEvents(resp.Body)

	return nil
}

// readEvents reads SSE frames from the connection and unwraps the
// orchestrator envelope from each data payload.
func (c *SSEClient) readEvents(body io.Reader) {
	defer func() {
		close(c.eventsCh)
		close(c.errCh)
	}()

	reader := bufio.NewReader(body)
	var eventData strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, context.Canceled) {
				c.errCh <- err
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")

		// Empty line = event complete
		if line == "" {
			if eventData.Len() > 0 {
				c.deliver(parseEnvelope(eventData.String()))
			}
			eventData.Reset()
			continue
		}

		// Comment = heartbeat
		if strings.HasPrefix(line, ":") {
			c.deliver(SSEEvent{Type: "heartbeat"})
			continue
		}

		// The event name is always "message"; only data matters.
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimPrefix(line, "data:")
			eventData.WriteString(strings.TrimSpace(data))
		}
	}
}

// parseEnvelope extracts the envelope type and properties from one data
// payload. Malformed payloads come through with Type "unknown" so a test
// can still see them.
func parseEnvelope(data string) SSEEvent {
	var evt SSEEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil || evt.Type == "" {
		return SSEEvent{Type: "unknown", Properties: json.RawMessage(data)}
	}
	return evt
}

// deliver records an event and pushes it to the channel.
func (c *SSEClient) deliver(evt SSEEvent) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()

	select {
	case c.eventsCh <- evt:
	default:
		// Channel full, drop event
	}
}

// Events returns the event channel. It is closed when the stream ends.
func (c *SSEClient) Events() <-chan SSEEvent {
	return c.eventsCh
}

// WaitForEvent waits for a specific envelope type with timeout
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	return c.WaitFor(timeout, func(evt SSEEvent) bool {
		return evt.Type == eventType
	})
}

// WaitFor waits for the first event matching the predicate with timeout
func (c *SSEClient) WaitFor(timeout time.Duration, match func(SSEEvent) bool) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if match(evt) {
				return &evt, nil
			}
		case err, ok := <-c.errCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event")
		}
	}
}

// WaitForAnyEvent waits for any event with timeout
func (c *SSEClient) WaitForAnyEvent(timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	select {
	case evt, ok := <-c.eventsCh:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return &evt, nil
	case err, ok := <-c.errCh:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return nil, err
	case <-deadline:
		return nil, fmt.Errorf("timeout waiting for event")
	}
}

// CollectEvents collects events for a duration
func (c *SSEClient) CollectEvents(duration time.Duration) []SSEEvent {
	var collected []SSEEvent
	deadline := time.After(duration)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return collected
			}
			collected = append(collected, evt)
		case <-deadline:
			return collected
		}
	}
}

// GetAllEvents returns all received events
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]SSEEvent, len(c.events))
	copy(result, c.events)
	return result
}

// HasEventType checks if an envelope type was received
func (c *SSEClient) HasEventType(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, evt := range c.events {
		if evt.Type == eventType {
			return true
		}
	}
	return false
}

// CountEventType counts events of a specific envelope type
func (c *SSEClient) CountEventType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, evt := range c.events {
		if evt.Type == eventType {
			count++
		}
	}
	return count
}

// Close closes the SSE connection
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}

// ---- Envelope Property Helpers ----

// StatusEventData is the payload of session.status events.
type StatusEventData struct {
	SessionID string `json:"sessionID"`
	Status    string `json:"status"`
}

// QueueEventData is the payload of session.queue-changed events.
type QueueEventData struct {
	SessionID string `json:"sessionID"`
	Pending   int    `json:"pending"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
}

// ParseChunk parses agent.chunk properties
func (evt *SSEEvent) ParseChunk() (*types.Chunk, error) {
	var props struct {
		Chunk types.Chunk `json:"chunk"`
	}
	if err := json.Unmarshal(evt.Properties, &props); err != nil {
		return nil, err
	}
	return &props.Chunk, nil
}

// ParseStderr parses agent.stderr properties
func (evt *SSEEvent) ParseStderr() (*types.StderrLine, error) {
	var props struct {
		Line types.StderrLine `json:"line"`
	}
	if err := json.Unmarshal(evt.Properties, &props); err != nil {
		return nil, err
	}
	return &props.Line, nil
}

// ParseSessionInfo parses session.created and session.updated properties
func (evt *SSEEvent) ParseSessionInfo() (*types.Session, error) {
	var props struct {
		Info types.Session `json:"info"`
	}
	if err := json.Unmarshal(evt.Properties, &props); err != nil {
		return nil, err
	}
	return &props.Info, nil
}

// ParseStatus parses session.status properties
func (evt *SSEEvent) ParseStatus() (*StatusEventData, error) {
	var props StatusEventData
	if err := json.Unmarshal(evt.Properties, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

// ParseQueue parses session.queue-changed properties
func (evt *SSEEvent) ParseQueue() (*QueueEventData, error) {
	var props QueueEventData
	if err := json.Unmarshal(evt.Properties, &props); err != nil {
		return nil, err
	}
	return &props, nil
}
