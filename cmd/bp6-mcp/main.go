// Command bp6-mcp serves the orchestrator's session tools over stdio
// MCP, bridging tool calls to a running bp6 server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/grant-traynor/bp6-sub001/pkg/mcpserver/orchestrator"
)

var version = "0.1.0"

func main() {
	var (
		serverURL   = flag.String("server", "http://127.0.0.1:8080", "Base URL of the running bp6 server")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("bp6-mcp %s\n", version)
		return
	}

	s := orchestrator.NewServer(orchestrator.NewClient(*serverURL), version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
