// Package session implements the session registry and lifecycle engine
// of the bp6 orchestrator.
//
// A session is a long-lived unit of work bound to a backend agent CLI
// (claude, gemini), a persona, and optionally an external task
// reference. The package supervises the full lifecycle: creation with
// conversation resume, turn execution through ephemeral or persistent
// processes, interruption, headless queue execution, handover to
// interactive mode, and termination.
//
// # Architecture Overview
//
// The package is built around a few cooperating pieces:
//
//   - Service: the registry and the single entry point for all session
//     operations
//   - sessionState: the per-session runtime record, guarded by the
//     Service mutex
//   - queue executor: drives queued headless turns back to back with
//     bounded spawn retries
//   - handover: the one-way switch from headless to interactive
//     operation
//   - Index: the storage-backed resume index mapping task/persona
//     pairs to conversation tokens
//
// # Process Slot
//
// Each session owns at most one live backend process. The slot is
// claimed under the registry mutex before a spawn begins and released
// when the process is reaped, so concurrent senders get ErrSessionBusy
// instead of a second process. The actual fork, signalling and log I/O
// all happen outside the mutex.
//
// # Turn Flow
//
// A headless turn spawns one process with the prompt on its command
// line:
//
//	svc := session.NewService(cfg, backends, personas, store, logRoot)
//
//	info, err := svc.Create(ctx, session.CreateOptions{
//		TaskRef:       "T-1041",
//		Persona:       "specialist",
//		InitialPrompt: "Summarize the failing tests",
//	})
//
//	err = svc.Send(ctx, info.ID, "Now fix the first one")
//
// The process's stdout is parsed line by line into content chunks and
// published on the event bus in stream order; stderr lines are passed
// through verbatim. When the process exits without emitting its
// completion marker, a done envelope is synthesized so consumers always
// observe turn closure.
//
// # Headless Queue
//
// Queued turns run unattended, one process per turn, in order:
//
//	info, _ = svc.Enqueue(ctx, info.ID, []string{
//		"Run the linter and fix what it reports",
//		"Re-run the tests",
//	})
//
// A spawn failure is retried with exponential backoff; when retries are
// exhausted the queue halts with the remaining turns retained.
//
// # Handover
//
// Handover converts a session to interactive duplex operation. Pending
// queued turns are discarded (exactly once; repeated calls return
// ErrAlreadyInteractive) and later prompts are written to a persistent
// process over stdin:
//
//	info, err = svc.Handover(ctx, info.ID)
//	err = svc.Send(ctx, info.ID, "Walk me through the diff")
//
// # Conversation Resume
//
// Sessions are bound to backend-side conversations by a token. On
// Create the resume index is consulted: a live entry for the same
// task/persona pair and backend hands the new session the previous
// token, so the agent keeps its context across orchestrator restarts.
// Entries expire after thirty days of inactivity.
//
// # Events
//
// All state changes are published on the event bus: session.created,
// session.status, session.updated, session.terminated,
// session.list-changed, session.queue-changed, session.active-changed,
// agent.chunk and agent.stderr. Chunk events for one session are
// published synchronously from the process's reader goroutine and
// therefore arrive in emission order.
package session
