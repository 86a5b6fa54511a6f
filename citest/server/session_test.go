package server_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grant-traynor/bp6-sub001/citest/testutil"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// statusOf polls a session's status for Eventually assertions.
func statusOf(id string) func() (types.SessionStatus, error) {
	return func() (types.SessionStatus, error) {
		info, err := client.GetSession(ctx, id)
		if err != nil {
			return "", err
		}
		return info.Status, nil
	}
}

// turnsDoneOf polls a session's completed-turn counter.
func turnsDoneOf(id string) func() (int, error) {
	return func() (int, error) {
		info, err := client.GetSession(ctx, id)
		if err != nil {
			return 0, err
		}
		return info.TurnsDone, nil
	}
}

// messageCountOf polls a session's message counter.
func messageCountOf(id string) func() (int, error) {
	return func() (int, error) {
		info, err := client.GetSession(ctx, id)
		if err != nil {
			return 0, err
		}
		return info.MessageCount, nil
	}
}

// agentCallsMatching returns the fake agent invocations whose argument
// list contains the marker. Prompts carry unique markers so specs stay
// independent of each other's spawns.
func agentCallsMatching(marker string) []string {
	calls, err := testServer.AgentCalls()
	Expect(err).NotTo(HaveOccurred())
	var matched []string
	for _, c := range calls {
		if strings.Contains(c, marker) {
			matched = append(matched, c)
		}
	}
	return matched
}

// agentCallCount returns the total number of fake agent spawns so far.
func agentCallCount() int {
	calls, err := testServer.AgentCalls()
	Expect(err).NotTo(HaveOccurred())
	return len(calls)
}

var _ = Describe("Session Lifecycle", func() {
	var sessions *testutil.SessionManager

	BeforeEach(func() {
		sessions = testutil.NewSessionManager(client)
	})

	AfterEach(func() {
		sessions.Cleanup()
	})

	Describe("creating sessions", func() {
		It("starts idle with configured defaults", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(session.ID).NotTo(BeEmpty())
			Expect(session.Status).To(Equal(types.StatusIdle))
			Expect(session.Backend).To(Equal("claude"))
			Expect(session.Persona).To(Equal("specialist"))
			Expect(session.Interactive).To(BeFalse())
			Expect(session.MessageCount).To(BeZero())
			Expect(session.Time.Created).To(BeNumerically(">", 0))

			list, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(list))
			for _, s := range list {
				ids = append(ids, s.ID)
			}
			Expect(ids).To(ContainElement(session.ID))
		})

		It("runs an initial prompt through a fresh invocation", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{
				Prompt: "hello " + marker,
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			info, err := client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.MessageCount).To(Equal(1))

			calls := agentCallsMatching(marker)
			Expect(calls).To(HaveLen(1))
			Expect(calls[0]).To(ContainSubstring("--session-id"))
			Expect(calls[0]).To(ContainSubstring("-p"))
		})

		It("resumes the prior conversation for a repeated task and persona", func() {
			marker := testutil.RandomString(8)
			taskRef := "resume-" + marker

			first, err := sessions.Create(ctx, testutil.CreateSessionRequest{
				TaskRef: taskRef,
				Prompt:  "hello first-" + marker,
			})
			Expect(err).NotTo(HaveOccurred())
			Eventually(statusOf(first.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			Expect(client.DeleteSession(ctx, first.ID)).To(Succeed())

			second, err := sessions.Create(ctx, testutil.CreateSessionRequest{
				TaskRef: taskRef,
				Prompt:  "hello second-" + marker,
			})
			Expect(err).NotTo(HaveOccurred())
			Eventually(statusOf(second.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			calls := agentCallsMatching("second-" + marker)
			Expect(calls).To(HaveLen(1))
			Expect(calls[0]).To(ContainSubstring("--resume"))
			Expect(calls[0]).NotTo(ContainSubstring("--session-id"))
		})
	})

	Describe("sending messages", func() {
		It("spawns one process per turn and resumes after the first", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendMessage(ctx, session.ID, "turn-one "+marker)).To(Succeed())
			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))
			Eventually(messageCountOf(session.ID), "5s", "100ms").Should(Equal(1))

			Expect(client.SendMessage(ctx, session.ID, "turn-two "+marker)).To(Succeed())
			Eventually(messageCountOf(session.ID), "10s", "100ms").Should(Equal(2))
			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			calls := agentCallsMatching(marker)
			Expect(calls).To(HaveLen(2))
			Expect(calls[0]).To(ContainSubstring("--session-id"))
			Expect(calls[1]).To(ContainSubstring("--resume"))
		})

		It("rejects a message while a turn is in flight", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendMessage(ctx, session.ID, "take your time "+marker)).To(Succeed())
			Eventually(statusOf(session.ID), "5s", "50ms").Should(Equal(types.StatusRunning))

			resp, err := client.Post(ctx, "/session/"+session.ID+"/message", map[string]string{"text": "impatient"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(409))

			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body.Error.Code).To(Equal("SESSION_BUSY"))

			// Recovery lands well before the scripted turn would have
			// finished on its own.
			Expect(client.Interrupt(ctx, session.ID)).To(Succeed())
			Eventually(statusOf(session.ID), "3s", "100ms").Should(Equal(types.StatusIdle))
		})

		It("tracks unread output until the session gains focus", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{
				Prompt: "hello " + marker,
			})
			Expect(err).NotTo(HaveOccurred())
			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			info, err := client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.HasUnread).To(BeTrue())

			Expect(client.SetActive(ctx, session.ID)).To(Succeed())

			info, err = client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.HasUnread).To(BeFalse())
		})

		It("survives a crashing turn", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendMessage(ctx, session.ID, "please explode "+marker)).To(Succeed())
			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			// The session stays usable after the failed turn.
			Expect(client.SendMessage(ctx, session.ID, "still alive "+marker)).To(Succeed())
			Eventually(messageCountOf(session.ID), "10s", "100ms").Should(Equal(2))
		})
	})

	Describe("interrupting", func() {
		It("abandons the running turn and recovers to idle", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendMessage(ctx, session.ID, "take your time "+marker)).To(Succeed())
			Eventually(statusOf(session.ID), "5s", "50ms").Should(Equal(types.StatusRunning))

			// The scripted turn sleeps for seconds; idle inside this
			// window proves the signal cut it short.
			Expect(client.Interrupt(ctx, session.ID)).To(Succeed())
			Eventually(statusOf(session.ID), "3s", "100ms").Should(Equal(types.StatusIdle))

			info, err := client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.MessageCount).To(Equal(1))
		})

		It("is a no-op without a live process", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Interrupt(ctx, session.ID)).To(Succeed())

			info, err := client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Status).To(Equal(types.StatusIdle))
		})
	})

	Describe("queueing turns", func() {
		It("drains queued turns strictly in order", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			snap, err := client.Enqueue(ctx, session.ID, []string{
				"first step " + marker,
				"second step " + marker,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.QueuedTurns).To(Equal(2))
			Expect(snap.TurnsTotal).To(Equal(2))
			Expect(snap.TurnsDone).To(BeZero())

			Eventually(turnsDoneOf(session.ID), "15s", "100ms").Should(Equal(2))

			info, err := client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.QueuedTurns).To(BeZero())
			Expect(info.Status).To(Equal(types.StatusIdle))

			calls := agentCallsMatching(marker)
			Expect(calls).To(HaveLen(2))
			Expect(calls[0]).To(ContainSubstring("first step"))
			Expect(calls[1]).To(ContainSubstring("second step"))
		})

		It("executes a queue seeded at creation", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{
				Queue: []string{"alpha " + marker, "beta " + marker, "gamma " + marker},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(session.TurnsTotal).To(Equal(3))

			Eventually(turnsDoneOf(session.ID), "20s", "100ms").Should(Equal(3))
			Eventually(statusOf(session.ID), "5s", "100ms").Should(Equal(types.StatusIdle))

			Expect(agentCallsMatching(marker)).To(HaveLen(3))
		})

		It("rejects queueing on an interactive session", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Handover(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.Post(ctx, "/session/"+session.ID+"/queue", map[string][]string{
				"prompts": {"too late"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(409))

			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body.Error.Code).To(Equal("ALREADY_INTERACTIVE"))
		})
	})

	Describe("handover", func() {
		It("discards the pending queue exactly once", func() {
			marker := testutil.RandomString(8)
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Enqueue(ctx, session.ID, []string{
				"take your time " + marker,
				"discarded-a " + marker,
				"discarded-b " + marker,
			})
			Expect(err).NotTo(HaveOccurred())

			// The first queued turn must be in flight so a real pending
			// queue is left to discard.
			Eventually(statusOf(session.ID), "5s", "50ms").Should(Equal(types.StatusRunning))

			snap, err := client.Handover(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Interactive).To(BeTrue())
			Expect(snap.QueuedTurns).To(BeZero())
			Expect(snap.TurnsTotal).To(Equal(3))

			resp, err := client.Post(ctx, "/session/"+session.ID+"/handover", struct{}{})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(409))

			Expect(client.Interrupt(ctx, session.ID)).To(Succeed())
			Eventually(statusOf(session.ID), "3s", "100ms").Should(Equal(types.StatusIdle))

			// The discarded turns never spawn.
			time.Sleep(500 * time.Millisecond)
			Expect(agentCallsMatching(marker)).To(HaveLen(1))
		})

		It("holds a duplex conversation over a single persistent process", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Handover(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())

			before := agentCallCount()

			Expect(client.SendMessage(ctx, session.ID, "open the channel")).To(Succeed())
			Eventually(messageCountOf(session.ID), "10s", "100ms").Should(Equal(1))
			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			Expect(client.SendMessage(ctx, session.ID, "and keep it open")).To(Succeed())
			Eventually(messageCountOf(session.ID), "10s", "100ms").Should(Equal(2))
			Eventually(statusOf(session.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			calls, err := testServer.AgentCalls()
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(HaveLen(before+1), "both prompts share one duplex process")
			Expect(calls[before]).To(ContainSubstring("--input-format"))
			Expect(calls[before]).NotTo(ContainSubstring("-p "))
		})
	})

	Describe("removing", func() {
		It("terminates a running session and forgets it", func() {
			marker := testutil.RandomString(8)
			session, err := client.CreateSession(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendMessage(ctx, session.ID, "take your time "+marker)).To(Succeed())
			Eventually(statusOf(session.ID), "5s", "50ms").Should(Equal(types.StatusRunning))

			Expect(client.DeleteSession(ctx, session.ID)).To(Succeed())

			resp, err := client.Get(ctx, "/session/"+session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))

			list, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, s := range list {
				Expect(s.ID).NotTo(Equal(session.ID))
			}
		})
	})
})
