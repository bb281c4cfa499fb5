package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ = Describe("Errors", func() {
	DescribeTable("Classify",
		func(err error, want Outcome) {
			Expect(Classify(err)).To(Equal(want))
		},
		Entry("success", nil, OutcomeSuccess),
		Entry("network", networkError("p", errors.New("connection refused")), OutcomeTransient),
		Entry("rate limited", statusError("p", 429, "slow down"), OutcomeTransient),
		Entry("server error", statusError("p", 503, "busy"), OutcomeTransient),
		Entry("bad request", statusError("p", 400, "bad"), OutcomePermanent),
		Entry("unauthorized", statusError("p", 401, "bad key"), OutcomePermanent),
		Entry("decode", decodeError("p", errors.New("eof")), OutcomePermanent),
		Entry("malformed output", fmt.Errorf("%w: nope", ErrMalformedOutput), OutcomePermanent),
		Entry("deadline", context.DeadlineExceeded, OutcomeTransient),
	)

	It("exposes the failure sentinel through the provider error", func() {
		err := fmt.Errorf("calling: %w", statusError("gemini", 429, "quota"))
		Expect(err).To(MatchError(ErrStatus))
		Expect(IsRateLimited(err)).To(BeTrue())

		var pe *ProviderError
		Expect(errors.As(err, &pe)).To(BeTrue())
		Expect(pe.StatusCode).To(Equal(429))
		Expect(pe.Error()).To(ContainSubstring("status 429"))
	})

	It("truncates long bodies on a character boundary", func() {
		err := &ProviderError{Provider: "gemini", Failure: FailureStatus, StatusCode: http.StatusBadRequest,
			Body: strings.Repeat("요청", 150)}
		msg := err.Error()
		Expect(utf8.ValidString(msg)).To(BeTrue())
		Expect(msg).To(HaveSuffix(strings.Repeat("요청", 100) + "..."))
	})

	It("keeps the cause of network errors", func() {
		cause := errors.New("dial tcp: refused")
		err := networkError("ollama", cause)
		Expect(err).To(MatchError(ErrNetwork))
		Expect(err).To(MatchError(cause))
		Expect(IsRateLimited(err)).To(BeFalse())
	})

	It("wraps the last error in an exhausted error", func() {
		last := statusError("gemini", 500, "boom")
		err := error(&ExhaustedError{Attempts: make([]Attempt, 3), Last: last})
		Expect(err).To(MatchError(ErrAllStagesExhausted))
		Expect(err).To(MatchError(ErrStatus))
		Expect(err.Error()).To(ContainSubstring("after 3 attempts"))
	})

	DescribeTable("geminiStatus",
		func(err error, want int, ok bool) {
			code, found := geminiStatus(err)
			Expect(found).To(Equal(ok))
			Expect(code).To(Equal(want))
		},
		Entry("resource exhausted", status.Error(codes.ResourceExhausted, "quota"), http.StatusTooManyRequests, true),
		Entry("unavailable", status.Error(codes.Unavailable, "down"), http.StatusServiceUnavailable, true),
		Entry("deadline", status.Error(codes.DeadlineExceeded, "slow"), http.StatusGatewayTimeout, true),
		Entry("invalid argument", status.Error(codes.InvalidArgument, "bad"), http.StatusBadRequest, true),
		Entry("unauthenticated", status.Error(codes.Unauthenticated, "key"), http.StatusUnauthorized, true),
		Entry("permission denied", status.Error(codes.PermissionDenied, "no"), http.StatusForbidden, true),
		Entry("not found", status.Error(codes.NotFound, "model"), http.StatusNotFound, true),
		Entry("plain error", errors.New("boom"), 0, false),
	)
})
