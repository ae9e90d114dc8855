package scanning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Fetcher", func() {
	var (
		portal  *ghttp.Server
		relay   *ghttp.Server
		backup  *ghttp.Server
		cfg     Config
		fetcher *Fetcher
		ctx     context.Context
		locator string
		doc     *Document
		err     error
	)

	relayJSON := func(payload map[string]any) string {
		data, marshalErr := json.Marshal(payload)
		Expect(marshalErr).NotTo(HaveOccurred())
		return string(data)
	}

	BeforeEach(func() {
		portal = ghttp.NewServer()
		relay = ghttp.NewServer()
		backup = ghttp.NewServer()
		backup.AllowUnhandledRequests = true

		cfg = Config{
			Routes: []Route{
				{Name: "relay", Template: relay.URL() + "/get?url={url_encoded}", Format: FormatJSON, Field: "contents"},
				{Name: "backup", Template: backup.URL() + "/raw?url={url_encoded}", Format: FormatHTML},
			},
			Timeout:   time.Second,
			UserAgent: "nfce-test-agent",
		}
		ctx = context.Background()
		locator = portal.URL() + "/nfce/qrcode?p=" + testAccessKey + "|2|1|25.90"
	})

	AfterEach(func() {
		portal.Close()
		relay.Close()
		backup.Close()
	})

	JustBeforeEach(func() {
		fetcher = NewFetcher(nil, cfg)
		doc, err = fetcher.Fetch(ctx, locator)
	})

	When("the direct request succeeds", func() {
		BeforeEach(func() {
			portal.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/nfce/qrcode"),
				ghttp.VerifyHeaderKV("User-Agent", "nfce-test-agent"),
				ghttp.RespondWith(http.StatusOK, "<html><body>receipt</body></html>",
					http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}),
			))
		})

		It("should return the page", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Body).To(ContainSubstring("receipt"))
		})

		It("should report the direct route", func() {
			Expect(doc.Route).To(Equal("direct"))
		})

		It("should not try any relay", func() {
			Expect(relay.ReceivedRequests()).To(BeEmpty())
			Expect(backup.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the page is served in Latin-1", func() {
		BeforeEach(func() {
			portal.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<p>Informa\xe7\xf5es gerais</p>",
				http.Header{"Content-Type": []string{"text/html; charset=iso-8859-1"}}))
		})

		It("should decode it to UTF-8", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Body).To(ContainSubstring("Informações gerais"))
		})
	})

	When("the direct request fails and the relay succeeds", func() {
		BeforeEach(func() {
			portal.AppendHandlers(ghttp.RespondWith(http.StatusForbidden, "blocked"))
			relay.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/get", "url="+url.QueryEscape(locator)),
				ghttp.RespondWith(http.StatusOK, relayJSON(map[string]any{
					"contents": "<html>relayed</html>",
					"status":   map[string]any{"http_code": 200},
				})),
			))
		})

		It("should return the unwrapped page", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Body).To(Equal("<html>relayed</html>"))
		})

		It("should report the relay route", func() {
			Expect(doc.Route).To(Equal("relay"))
		})

		It("should not attempt later routes", func() {
			Expect(backup.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the relay reports an upstream failure", func() {
		BeforeEach(func() {
			portal.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, ""))
			relay.AppendHandlers(ghttp.RespondWith(http.StatusOK, relayJSON(map[string]any{
				"contents": "error page",
				"status":   map[string]any{"http_code": 404},
			})))
			backup.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>backup</html>"))
		})

		It("should move on to the next route", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Route).To(Equal("backup"))
		})
	})

	When("the direct request times out", func() {
		BeforeEach(func() {
			cfg.Timeout = 50 * time.Millisecond
			portal.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			})
			relay.AppendHandlers(ghttp.RespondWith(http.StatusOK, relayJSON(map[string]any{"contents": "<html>late</html>"})))
		})

		It("should fall back to the relay", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Route).To(Equal("relay"))
		})
	})

	When("every route fails", func() {
		BeforeEach(func() {
			portal.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, ""))
			relay.AppendHandlers(ghttp.RespondWith(http.StatusOK, "not json"))
			backup.AppendHandlers(ghttp.RespondWith(http.StatusOK, "   "))
		})

		It("should return a retrieval failure", func() {
			Expect(err).To(MatchError(ErrRetrievalFailure))
			Expect(doc).To(BeNil())
		})

		It("should list one attempt per route in order", func() {
			var rerr *RetrievalError
			Expect(err).To(BeAssignableToTypeOf(rerr))
			rerr = err.(*RetrievalError)
			Expect(rerr.Attempts).To(HaveLen(3))
			Expect(rerr.Attempts[0].Route).To(Equal("direct"))
			Expect(rerr.Attempts[0].Reason).To(ContainSubstring("502"))
			Expect(rerr.Attempts[1].Route).To(Equal("relay"))
			Expect(rerr.Attempts[1].Reason).To(ContainSubstring("decoding relay response"))
			Expect(rerr.Attempts[2].Route).To(Equal("backup"))
			Expect(rerr.Attempts[2].Reason).To(ContainSubstring("empty document"))
		})
	})

	When("the relay response lacks the configured field", func() {
		BeforeEach(func() {
			cfg.Routes = cfg.Routes[:1]
			portal.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, ""))
			relay.AppendHandlers(ghttp.RespondWith(http.StatusOK, relayJSON(map[string]any{"body": "<html></html>"})))
		})

		It("should count the route as failed", func() {
			var rerr *RetrievalError
			Expect(err).To(BeAssignableToTypeOf(rerr))
			Expect(err.(*RetrievalError).Attempts[1].Reason).To(ContainSubstring(`no "contents" field`))
		})
	})

	When("the locator is not a URL", func() {
		BeforeEach(func() {
			locator = testAccessKey + "|2|1|25.90"
		})

		It("should fail without any request", func() {
			Expect(err).To(MatchError(ErrRetrievalFailure))
			Expect(portal.ReceivedRequests()).To(BeEmpty())
			Expect(relay.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the context is already canceled", func() {
		BeforeEach(func() {
			canceledCtx, cancel := context.WithCancel(context.Background())
			cancel()
			ctx = canceledCtx
		})

		It("should return the context error", func() {
			Expect(err).To(MatchError(context.Canceled))
			Expect(err).NotTo(MatchError(ErrRetrievalFailure))
		})

		It("should not send any request", func() {
			Expect(portal.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("Route", func() {
	DescribeTable("expanding the template",
		func(template, expected string) {
			Expect(Route{Template: template}.Expand("http://a.b/q?p=1|2")).To(Equal(expected))
		},
		Entry("encoded placeholder", "https://relay/get?url={url_encoded}", "https://relay/get?url=http%3A%2F%2Fa.b%2Fq%3Fp%3D1%7C2"),
		Entry("raw placeholder", "https://relay/{url}", "https://relay/http://a.b/q?p=1|2"),
		Entry("no placeholder", "https://relay/?", "https://relay/?http://a.b/q?p=1|2"),
	)
})
