package server_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grant-traynor/bp6-sub001/citest/testutil"
)

var _ = Describe("API Endpoints", func() {
	Describe("GET /health", func() {
		It("reports ok with the server version", func() {
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			var health struct {
				Status  string `json:"status"`
				Version string `json:"version"`
			}
			Expect(resp.JSON(&health)).To(Succeed())
			Expect(health.Status).To(Equal("ok"))
			Expect(health.Version).To(Equal("citest"))
		})
	})

	Describe("GET /backend", func() {
		It("lists the registered backend kinds", func() {
			backends, err := client.ListBackends(ctx)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]string, 0, len(backends))
			for _, b := range backends {
				ids = append(ids, b.ID)
				Expect(b.Command).NotTo(BeEmpty())
			}
			Expect(ids).To(ContainElements("claude", "gemini"))
		})
	})

	Describe("GET /persona", func() {
		It("lists the scaffolded default personas", func() {
			personas, err := client.ListPersonas(ctx)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]string, 0, len(personas))
			for _, p := range personas {
				ids = append(ids, p.ID)
			}
			Expect(ids).To(ContainElements("specialist", "product-manager", "qa-engineer"))
		})
	})

	Describe("GET /task", func() {
		It("returns an empty list when no feed file exists", func() {
			tasks, err := client.ListTasks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(BeEmpty())
		})

		It("returns tasks from the feed file in order", func() {
			err := testServer.WriteTaskFeed(
				`{"id":"TASK-1","title":"Wire the flux capacitor","status":"open"}`,
				`{"id":"TASK-2","title":"Recalibrate sensors","status":"in_progress"}`,
			)
			Expect(err).NotTo(HaveOccurred())

			tasks, err := client.ListTasks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[0].ID).To(Equal("TASK-1"))
			Expect(tasks[0].Title).To(Equal("Wire the flux capacitor"))
			Expect(tasks[1].ID).To(Equal("TASK-2"))
			Expect(tasks[1].Status).To(Equal("in_progress"))
		})
	})

	Describe("CORS", func() {
		It("answers cross-origin requests with allow headers", func() {
			resp, err := client.Get(ctx, "/health", testutil.WithHeader("Origin", "http://example.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.Headers.Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
		})
	})
})

var _ = Describe("Request Validation", func() {
	It("returns 404 for unknown paths", func() {
		resp, err := client.Get(ctx, "/unknown/endpoint")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(404))
	})

	It("returns 400 for malformed JSON", func() {
		resp, err := client.Post(ctx, "/session", "invalid json{")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
	})

	It("returns 404 for operations on an unknown session", func() {
		resp, err := client.Get(ctx, "/session/no-such-session")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(404))

		resp, err = client.Delete(ctx, "/session/no-such-session")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(404))

		resp, err = client.Post(ctx, "/session/no-such-session/message", map[string]string{"text": "hi"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(404))

		resp, err = client.Post(ctx, "/session/no-such-session/handover", struct{}{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(404))
	})

	It("rejects a message without text", func() {
		session, err := client.CreateSession(ctx, testutil.CreateSessionRequest{})
		Expect(err).NotTo(HaveOccurred())
		defer client.DeleteSession(ctx, session.ID)

		resp, err := client.Post(ctx, "/session/"+session.ID+"/message", map[string]string{"text": "  "})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
	})

	It("rejects an empty queue request", func() {
		session, err := client.CreateSession(ctx, testutil.CreateSessionRequest{})
		Expect(err).NotTo(HaveOccurred())
		defer client.DeleteSession(ctx, session.ID)

		resp, err := client.Post(ctx, "/session/"+session.ID+"/queue", map[string][]string{"prompts": {}})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
	})

	It("rejects an unknown backend reference", func() {
		resp, err := client.Post(ctx, "/session", testutil.CreateSessionRequest{Backend: "hal9000"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))

		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		Expect(resp.JSON(&body)).To(Succeed())
		Expect(body.Error.Code).To(Equal("INVALID_REQUEST"))
		Expect(body.Error.Message).To(ContainSubstring("hal9000"))
	})

	It("rejects an unknown persona reference", func() {
		resp, err := client.Post(ctx, "/session", testutil.CreateSessionRequest{Persona: "court-jester"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
	})
})
