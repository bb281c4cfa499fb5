package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("ChatCompletions", func() {
	var (
		server   *ghttp.Server
		provider *ChatCompletions
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		provider, err = NewChatCompletions("openai", KindCloudChatVision, server.URL(), "gpt-4o-mini")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an endpoint and model", func() {
		_, err := NewChatCompletions("x", KindCloudChatVision, "", "m")
		Expect(err).To(HaveOccurred())
		_, err = NewChatCompletions("x", KindCloudChatVision, "http://localhost", "")
		Expect(err).To(HaveOccurred())
	})

	It("sends the image as a data URL with a bearer credential", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
			ghttp.VerifyHeaderKV("Authorization", "Bearer sk-test"),
			func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				var req map[string]any
				Expect(json.Unmarshal(body, &req)).To(Succeed())
				Expect(req["model"]).To(Equal("gpt-4o-mini"))
				Expect(string(body)).To(ContainSubstring(`data:image/jpeg;base64,AQID`))
				Expect(string(body)).To(ContainSubstring(`"role":"system"`))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": " {\"store_name\": \"X\"} "}}},
			}),
		))

		out, err := provider.Infer(context.Background(), Request{
			Image:       []byte{1, 2, 3},
			MimeType:    "image/jpeg",
			Instruction: "read it",
			SchemaHint:  receiptSchemaHint,
			Credential:  "sk-test",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"store_name": "X"}`))
	})

	It("sends plain text content without an image", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyJSON(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"structure this"}],"temperature":0.1,"max_tokens":4096}`),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
			}),
		))

		out, err := provider.Infer(context.Background(), Request{Instruction: "structure this"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("ok"))
		Expect(server.ReceivedRequests()[0].Header.Get("Authorization")).To(BeEmpty())
	})

	It("returns a status error on non-2xx", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, `{"error":"rate limited"}`))

		_, err := provider.Infer(context.Background(), Request{Instruction: "x", Credential: "k"})
		Expect(err).To(MatchError(ErrStatus))
		Expect(IsRateLimited(err)).To(BeTrue())
	})

	It("returns a decode error on a bad body", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `not json`))

		_, err := provider.Infer(context.Background(), Request{Instruction: "x"})
		Expect(err).To(MatchError(ErrDecode))
	})

	It("returns a decode error without choices", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))

		_, err := provider.Infer(context.Background(), Request{Instruction: "x"})
		Expect(err).To(MatchError(ErrDecode))
	})

	It("returns a network error when the server is gone", func() {
		server.Close()

		_, err := provider.Infer(context.Background(), Request{Instruction: "x"})
		Expect(err).To(MatchError(ErrNetwork))
		Expect(Classify(err)).To(Equal(OutcomeTransient))
	})

	Describe("Probe", func() {
		BeforeEach(func() {
			provider, err = NewChatCompletions("lighton", KindSelfHosted, server.URL(), "lightonai/LightOnOCR-2-1B",
				WithProbeTimeout(200*time.Millisecond))
			Expect(err).NotTo(HaveOccurred())
		})

		It("is reachable when health answers 2xx", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/health"),
				ghttp.RespondWith(http.StatusOK, `{"status":"ok"}`),
			))
			Expect(provider.Probe(context.Background())).To(BeTrue())
		})

		It("is unreachable on 503", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, ""))
			Expect(provider.Probe(context.Background())).To(BeFalse())
		})

		It("is unreachable when the health check hangs", func() {
			server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			})
			Expect(provider.Probe(context.Background())).To(BeFalse())
		})
	})
})

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		provider *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		provider, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("defaults the endpoint and model", func() {
		o, err := NewOllama("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(o.baseURL).To(Equal("http://localhost:11434"))
		Expect(o.model).NotTo(BeEmpty())
		Expect(o.Kind()).To(Equal(KindSelfHosted))
	})

	It("puts the image on the user message", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			func(w http.ResponseWriter, r *http.Request) {
				var req ollamaChatRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Stream).To(BeFalse())
				Expect(req.Messages).To(HaveLen(1))
				Expect(req.Messages[0].Images).To(Equal([]string{"AQID"}))
				Expect(req.Format).To(BeEmpty())
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]any{"role": "assistant", "content": "스타벅스\n합계 8,500\n"},
				"done":    true,
			}),
		))

		out, err := provider.Infer(context.Background(), Request{Image: []byte{1, 2, 3}, Instruction: "transcribe"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("스타벅스\n합계 8,500"))
	})

	It("asks for JSON when a schema is hinted", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			func(w http.ResponseWriter, r *http.Request) {
				var req ollamaChatRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Format).To(Equal("json"))
				Expect(req.Messages[0].Role).To(Equal("system"))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"message": map[string]any{"content": "{}"}}),
		))

		_, err := provider.Infer(context.Background(), Request{Instruction: "x", SchemaHint: receiptSchemaHint})
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns a status error on failure", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))

		_, err := provider.Infer(context.Background(), Request{Instruction: "x"})
		Expect(err).To(MatchError(ErrStatus))
		Expect(err.Error()).To(ContainSubstring("model not loaded"))
	})

	It("probes the tags endpoint", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodGet, "/api/tags"),
			ghttp.RespondWith(http.StatusOK, `{"models":[]}`),
		))
		Expect(provider.Probe(context.Background())).To(BeTrue())
	})
})

var _ = Describe("IsReachable", func() {
	It("is false for a malformed URL", func() {
		Expect(IsReachable(context.Background(), nil, "://nope", time.Second)).To(BeFalse())
	})

	It("is false for a canceled context", func() {
		server := ghttp.NewServer()
		defer server.Close()
		server.AllowUnhandledRequests = true

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(IsReachable(ctx, nil, server.URL()+"/health", time.Second)).To(BeFalse())
	})
})
