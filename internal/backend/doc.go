/*
Package backend adapts external agent CLIs behind a uniform plugin interface.

Each supported backend (Claude Code, Gemini) differs in how it is invoked,
how conversations are resumed, and how its streaming output is shaped. The
Plugin interface normalizes all three concerns so the session layer never
branches on backend kind.

# Invocation Modes

A backend process is spawned in one of four forms:

  - ModeHeadless: single fresh turn, prompt on the command line, process
    exits when the turn completes.
  - ModeHeadlessResume: single turn continuing an earlier conversation.
  - ModeInteractiveFresh: persistent duplex process, prompts over stdin.
  - ModeInteractiveResume: persistent duplex process continuing an earlier
    conversation.

BuildArgs produces the argument vector for a mode; the session layer owns
spawning and stream plumbing.

# Resume Tokens

Backends disagree about conversation identity:

  - claude requires a strict UUID. NewToken pre-mints one and BuildArgs
    passes it with --session-id on fresh turns, so the resume token is
    known before the first process ever runs. Resumed turns pass the same
    UUID to --resume.
  - gemini cannot pre-assign identifiers. NewToken returns "" and resume
    maps an empty token to the "latest" shorthand.

CheckToken validates caller-supplied tokens against the backend's format
and returns ErrBadToken on mismatch.

# Output Parsing

Both CLIs emit newline-delimited JSON on stdout. ParseLine converts one
line into a types.Chunk:

	chunk, ok := plugin.ParseLine(line)
	if !ok {
	    // malformed, partial, or uninteresting line: skip it
	    continue
	}
	if chunk.Done {
	    // the backend's completion marker for this turn
	}

Parsing is tolerant by contract: a malformed or unrecognized line is
skipped, never an error that aborts the stream.

# Registry

The Registry maps backend kinds to plugins:

	reg := backend.DefaultRegistry(cfg)
	plugin, err := reg.Get("claude")
	if errors.Is(err, backend.ErrUnknownBackend) {
	    // reject the request
	}

DefaultRegistry registers every built-in backend unless the configuration
disables it.
*/
package backend
