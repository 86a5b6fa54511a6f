package server_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grant-traynor/bp6-sub001/citest/testutil"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

var _ = Describe("Event Streaming", func() {
	var (
		sessions *testutil.SessionManager
		stream   *testutil.SSEClient
	)

	BeforeEach(func() {
		sessions = testutil.NewSessionManager(client)
		stream = testServer.SSEClient()
	})

	AfterEach(func() {
		stream.Close()
		sessions.Cleanup()
	})

	// connect opens the stream and waits out the connected frame. The
	// server subscribes before sending it, so nothing published after
	// this returns can be missed.
	connect := func(path string) {
		Expect(stream.Connect(ctx, path)).To(Succeed())
		_, err := stream.WaitForEvent("server.connected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	}

	It("sends a connected frame before anything else", func() {
		Expect(stream.Connect(ctx, "/event")).To(Succeed())

		evt, err := stream.WaitForAnyEvent(5 * time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(evt.Type).To(Equal("server.connected"))
	})

	It("tolerates client disconnects", func() {
		connect("/event")
		stream.Close()
		Eventually(stream.Events(), "5s").Should(BeClosed())

		resp, err := client.Get(ctx, "/health")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		// A fresh subscriber is unaffected by the departed one.
		second := testServer.SSEClient()
		defer second.Close()
		Expect(second.Connect(ctx, "/event")).To(Succeed())
		_, err = second.WaitForEvent("server.connected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("on the shared stream", func() {
		It("announces session creation and termination", func() {
			connect("/event")

			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			evt, err := stream.WaitFor(10*time.Second, func(evt testutil.SSEEvent) bool {
				if evt.Type != "session.created" {
					return false
				}
				info, perr := evt.ParseSessionInfo()
				return perr == nil && info.ID == session.ID
			})
			Expect(err).NotTo(HaveOccurred())

			info, err := evt.ParseSessionInfo()
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Backend).To(Equal("claude"))
			Expect(info.Status).To(Equal(types.StatusIdle))
			Expect(stream.HasEventType("session.list-changed")).To(BeTrue())

			Expect(client.DeleteSession(ctx, session.ID)).To(Succeed())

			_, err = stream.WaitFor(10*time.Second, func(evt testutil.SSEEvent) bool {
				if evt.Type != "session.terminated" {
					return false
				}
				var props struct {
					SessionID string `json:"sessionID"`
				}
				return json.Unmarshal(evt.Properties, &props) == nil && props.SessionID == session.ID
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("streams status transitions while a turn runs", func() {
			connect("/event")

			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendMessage(ctx, session.ID, "hello")).To(Succeed())

			for _, want := range []string{"running", "idle"} {
				_, err := stream.WaitFor(10*time.Second, func(evt testutil.SSEEvent) bool {
					if evt.Type != "session.status" {
						return false
					}
					st, perr := evt.ParseStatus()
					return perr == nil && st.SessionID == session.ID && st.Status == want
				})
				Expect(err).NotTo(HaveOccurred(), "expected a %q status frame", want)
			}
			Expect(stream.HasEventType("agent.chunk")).To(BeTrue())
		})
	})

	Context("with a session filter", func() {
		It("delivers the watched session's output in order", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			connect("/event?session=" + session.ID)

			Expect(client.SendMessage(ctx, session.ID, "hello there")).To(Succeed())

			_, err = stream.WaitFor(10*time.Second, func(evt testutil.SSEEvent) bool {
				if evt.Type != "agent.chunk" {
					return false
				}
				chunk, perr := evt.ParseChunk()
				return perr == nil && chunk.Done
			})
			Expect(err).NotTo(HaveOccurred())

			var text strings.Builder
			for _, evt := range stream.GetAllEvents() {
				if evt.Type != "agent.chunk" {
					continue
				}
				chunk, perr := evt.ParseChunk()
				Expect(perr).NotTo(HaveOccurred())
				Expect(chunk.SessionID).To(Equal(session.ID))
				if !chunk.Done {
					text.WriteString(chunk.Content)
				}
			}
			Expect(text.String()).To(Equal("Hello! How can I help?"))
		})

		It("never leaks another session's traffic", func() {
			watched, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())
			noisy, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			connect("/event?session=" + watched.ID)

			Expect(client.SendMessage(ctx, noisy.ID, "a perfectly ordinary prompt")).To(Succeed())
			Eventually(messageCountOf(noisy.ID), "10s", "100ms").Should(Equal(1))
			Eventually(statusOf(noisy.ID), "10s", "100ms").Should(Equal(types.StatusIdle))

			matcher := testutil.NewEventMatcher(stream.CollectEvents(1 * time.Second))
			Expect(matcher.CountType("agent.chunk")).To(BeZero())
			Expect(matcher.CountType("session.status")).To(BeZero())
			Expect(matcher.FilterType("agent.stderr")).To(BeEmpty())
		})

		It("reports queue progress through to completion", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			connect("/event?session=" + session.ID)

			_, err = client.Enqueue(ctx, session.ID, []string{"first queued step", "second queued step"})
			Expect(err).NotTo(HaveOccurred())

			_, err = stream.WaitFor(20*time.Second, func(evt testutil.SSEEvent) bool {
				if evt.Type != "session.queue-changed" {
					return false
				}
				q, perr := evt.ParseQueue()
				return perr == nil && q.Done == 2 && q.Pending == 0
			})
			Expect(err).NotTo(HaveOccurred())

			frames := testutil.NewEventMatcher(stream.GetAllEvents()).FilterType("session.queue-changed")
			Expect(frames).NotTo(BeEmpty())

			first, err := frames[0].ParseQueue()
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Pending).To(Equal(2))
			Expect(first.Done).To(BeZero())
			Expect(first.Total).To(Equal(2))

			done := 0
			for _, frame := range frames {
				q, perr := frame.ParseQueue()
				Expect(perr).NotTo(HaveOccurred())
				Expect(q.Done).To(BeNumerically(">=", done), "completion count never rewinds")
				Expect(q.Total).To(Equal(2))
				done = q.Done
			}
			Expect(done).To(Equal(2))
		})

		It("forwards the agent's stderr", func() {
			session, err := sessions.Create(ctx, testutil.CreateSessionRequest{})
			Expect(err).NotTo(HaveOccurred())

			connect("/event?session=" + session.ID)

			Expect(client.SendMessage(ctx, session.ID, "please explode")).To(Succeed())

			evt, err := stream.WaitForEvent("agent.stderr", 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			line, err := evt.ParseStderr()
			Expect(err).NotTo(HaveOccurred())
			Expect(line.SessionID).To(Equal(session.ID))
			Expect(line.Line).To(ContainSubstring("agent blew up"))

			// The failed turn still closes with a terminal error chunk.
			evt, err = stream.WaitFor(10*time.Second, func(evt testutil.SSEEvent) bool {
				if evt.Type != "agent.chunk" {
					return false
				}
				chunk, perr := evt.ParseChunk()
				return perr == nil && chunk.Done
			})
			Expect(err).NotTo(HaveOccurred())
			chunk, err := evt.ParseChunk()
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Content).To(ContainSubstring("internal agent failure"))
			Expect(stream.CountEventType("agent.stderr")).To(Equal(1))
		})
	})
})
