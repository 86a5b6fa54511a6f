package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/server"
	"github.com/grant-traynor/bp6-sub001/internal/session"
	"github.com/grant-traynor/bp6-sub001/internal/storage"
	"github.com/grant-traynor/bp6-sub001/internal/task"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// TestServer runs a full orchestrator over a temp data root, with the
// claude backend swapped for a scripted fake agent.
type TestServer struct {
	Server    *server.Server
	Service   *session.Service
	BaseURL   string
	Config    *types.Config
	DataDir   string
	AgentPath string
	port      int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	envFile  string
	scenario *AgentScenario
	mutate   func(*types.Config)
}

// WithScenario installs a custom fake agent scenario.
func WithScenario(s *AgentScenario) TestServerOption {
	return func(c *testServerConfig) {
		c.scenario = s
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// WithConfig mutates the app config before the stack is built.
func WithConfig(mutate func(*types.Config)) TestServerOption {
	return func(c *testServerConfig) {
		c.mutate = mutate
	}
}

// StartTestServer creates and starts a test server. The global event
// bus is reset, so only one TestServer can run per process at a time.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
		_ = godotenv.Load("../.env")
		_ = godotenv.Load(".env")
	}

	tempDir, err := os.MkdirTemp("", "bp6-test-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	scenario := cfg.scenario
	if scenario == nil {
		scenario = DefaultAgentScenario()
	}
	agentPath, err := WriteFakeAgent(tempDir, scenario)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	appConfig := &types.Config{
		DataDir:        tempDir,
		DefaultBackend: "claude",
		DefaultPersona: "specialist",
		Backend: map[string]types.BackendConfig{
			"claude": {Command: agentPath},
		},
		Session: &types.SessionConfig{
			QueueRetries: 2,
			TermGraceMS:  100,
		},
	}
	if cfg.mutate != nil {
		cfg.mutate(appConfig)
	}

	paths := config.PathsAt(appConfig.DataDir)
	if err := paths.EnsurePaths(); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	personas, err := persona.NewRegistry(paths.Personas)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	event.Reset()

	backends := backend.DefaultRegistry(appConfig)
	store := storage.New(paths.Storage)
	service := session.NewService(appConfig, backends, personas, store, paths.Sessions)
	feed := task.NewFeed(task.FeedPath(appConfig))

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("find available port: %w", err)
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.Version = "citest"

	srv := server.New(serverConfig, appConfig, service, backends, personas, feed)

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:    srv,
		Service:   service,
		BaseURL:   baseURL,
		Config:    appConfig,
		DataDir:   tempDir,
		AgentPath: agentPath,
		port:      port,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Service != nil {
		_ = ts.Service.Shutdown(ctx)
	}
	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}

	if ts.DataDir != "" {
		os.RemoveAll(ts.DataDir)
	}
	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// AgentCalls returns the fake agent's recorded invocations.
func (ts *TestServer) AgentCalls() ([]string, error) {
	return AgentCalls(ts.AgentPath)
}

// WriteTaskFeed writes the task feed file the /task endpoint reads.
func (ts *TestServer) WriteTaskFeed(lines ...string) error {
	feedPath := config.PathsAt(ts.DataDir).TaskFeedPath()
	var data []byte
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	return os.WriteFile(feedPath, data, 0o644)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
