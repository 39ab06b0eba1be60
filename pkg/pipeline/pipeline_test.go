package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hxnam/affibot/pkg/affiliate"
	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/ledger"
	"github.com/hxnam/affibot/pkg/links"
)

// rewriteTransport routes every request at the test server regardless of the
// host in the URL, so the fixed shortener domains resolve locally.
type rewriteTransport struct {
	host string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(clone)
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeRenderer) Render(url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", fmt.Errorf("encoder failure")
	}
	return "/tmp/qrcode.png", nil
}

type affiliateServer struct {
	srv         *httptest.Server
	mu          sync.Mutex
	createCalls int
	createdURLs []string
	campaigns   string
}

func newAffiliateServer(campaigns string) *affiliateServer {
	a := &affiliateServer{campaigns: campaigns}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/campaigns":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(a.campaigns))
		case "/v1/product_link/create":
			a.mu.Lock()
			a.createCalls++
			a.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":true,"data":{"success_link":[{"short_link":"https://s.accesstrade.vn/xyz"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return a
}

func (a *affiliateServer) CreateCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createCalls
}

type harness struct {
	bus       *bus.MessageBus
	pipeline  *Pipeline
	affiliate *affiliateServer
	renderer  *fakeRenderer
	shortener *httptest.Server
}

const shopeeCampaigns = `{"data":[{"id":"c-shopee","merchant":"shopee"}]}`

// newHarness wires a pipeline against local servers. The shortener server
// redirects /abc123 to a shopee.vn path and 404s everything else.
func newHarness(t *testing.T, campaigns string) *harness {
	t.Helper()

	shortener := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/abc123" {
			http.Redirect(w, r, "/shopee.vn/item/123", http.StatusFound)
			return
		}
		if r.URL.Path == "/other" {
			http.Redirect(w, r, "/othershop.com/x", http.StatusFound)
			return
		}
		if strings.Contains(r.URL.Path, "shopee.vn") || strings.Contains(r.URL.Path, "othershop.com") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(shortener.Close)

	affSrv := newAffiliateServer(campaigns)
	t.Cleanup(affSrv.srv.Close)

	normalizer := links.NewNormalizer(time.Second)
	normalizer.SetHTTPClient(&http.Client{
		Transport: rewriteTransport{host: strings.TrimPrefix(shortener.URL, "http://")},
		Timeout:   time.Second,
	})

	msgBus := bus.NewMessageBus(64)
	ldg := ledger.New(30*time.Second, 1000, 500)
	renderer := &fakeRenderer{}
	resolver := affiliate.NewClient(affSrv.srv.URL, "test-token", "shopee", time.Second)

	p := New(msgBus, ldg, normalizer, resolver, renderer, Options{
		CommandPrefix: "!",
		Workers:       2,
		InstanceID:    "testinst",
	})

	return &harness{bus: msgBus, pipeline: p, affiliate: affSrv, renderer: renderer, shortener: shortener}
}

func (h *harness) deliver(id, content string) {
	h.pipeline.handleEvent(context.Background(), bus.InboundMessage{
		Channel:   "discord",
		MessageID: id,
		SenderID:  "user-1",
		ChatID:    "chan-1",
		Content:   content,
	})
}

func (h *harness) drainReplies() []bus.OutboundMessage {
	var out []bus.OutboundMessage
	for {
		select {
		case m := <-h.bus.Outbound():
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestEndToEndShortenerLink(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "check this https://shp.ee/abc123")
	replies := h.drainReplies()

	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2 (processing notice + result)", len(replies))
	}
	if replies[0].Content != msgProcessing {
		t.Fatalf("first reply = %q, want processing notice", replies[0].Content)
	}
	final := replies[1]
	if !strings.Contains(final.Content, "https://s.accesstrade.vn/xyz") {
		t.Fatalf("final reply %q does not contain the short link", final.Content)
	}
	if len(final.Media) != 1 {
		t.Fatalf("final reply media = %v, want one attached image", final.Media)
	}
	if final.ChatID != "chan-1" || final.Channel != "discord" {
		t.Fatalf("reply routed to %s/%s, want discord/chan-1", final.Channel, final.ChatID)
	}
	if h.renderer.calls != 1 {
		t.Fatalf("render calls = %d, want 1", h.renderer.calls)
	}
}

func TestCooldownBlocksSecondMessage(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	h.pipeline.SetClock(func() time.Time { return now })

	h.deliver("m1", "deal https://shopee.vn/item/123")
	h.drainReplies()
	if h.affiliate.CreateCalls() != 1 {
		t.Fatalf("create calls after first message = %d, want 1", h.affiliate.CreateCalls())
	}

	now = t0.Add(5 * time.Second)
	h.deliver("m2", "deal https://shopee.vn/item/123")
	replies := h.drainReplies()

	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1 cooldown notice", len(replies))
	}
	if !strings.Contains(replies[0].Content, "25") {
		t.Fatalf("cooldown reply %q does not state the remaining 25 seconds", replies[0].Content)
	}
	if h.affiliate.CreateCalls() != 1 {
		t.Fatalf("create calls after locked message = %d, want still 1", h.affiliate.CreateCalls())
	}

	now = t0.Add(31 * time.Second)
	h.deliver("m3", "deal https://shopee.vn/item/123")
	h.drainReplies()
	if h.affiliate.CreateCalls() != 2 {
		t.Fatalf("create calls after window expiry = %d, want 2", h.affiliate.CreateCalls())
	}
}

func TestInvalidDomainAfterExpansion(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "look https://shp.ee/other")
	replies := h.drainReplies()

	if len(replies) != 2 {
		t.Fatalf("replies = %d, want processing notice + rejection", len(replies))
	}
	if replies[1].Content != msgBadDomain {
		t.Fatalf("reply = %q, want domain-invalid message", replies[1].Content)
	}
	if h.affiliate.CreateCalls() != 0 {
		t.Fatalf("affiliate called for an invalid link")
	}
}

func TestCampaignNotFoundYieldsGenericFailure(t *testing.T) {
	h := newHarness(t, `{"data":[{"id":"c-lazada","merchant":"lazada"}]}`)

	h.deliver("m1", "deal https://shopee.vn/item/123")
	replies := h.drainReplies()

	if len(replies) != 2 {
		t.Fatalf("replies = %d, want processing notice + failure", len(replies))
	}
	if replies[1].Content != msgShortenFail {
		t.Fatalf("reply = %q, want generic shorten failure", replies[1].Content)
	}
}

func TestDuplicateEventIgnored(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "deal https://shopee.vn/item/123")
	first := h.drainReplies()
	if len(first) == 0 {
		t.Fatalf("first delivery produced no replies")
	}

	h.deliver("m1", "deal https://shopee.vn/item/123")
	if replies := h.drainReplies(); len(replies) != 0 {
		t.Fatalf("duplicate event produced %d replies, want 0", len(replies))
	}
	if h.affiliate.CreateCalls() != 1 {
		t.Fatalf("create calls = %d, want 1", h.affiliate.CreateCalls())
	}
}

func TestOnlyFirstLinkProcessed(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "https://shopee.vn/item/1 https://shopee.vn/item/2")
	h.drainReplies()

	if h.affiliate.CreateCalls() != 1 {
		t.Fatalf("create calls = %d, want 1 (first link only)", h.affiliate.CreateCalls())
	}
}

func TestMessageWithoutLinksIsSilent(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "good morning everyone")
	if replies := h.drainReplies(); len(replies) != 0 {
		t.Fatalf("plain message produced %d replies, want 0", len(replies))
	}
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "!status")
	replies := h.drainReplies()

	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	report := replies[0].Content
	for _, want := range []string{"testinst", "!process", "!status", "Cooldown window"} {
		if !strings.Contains(report, want) {
			t.Fatalf("status report missing %q:\n%s", want, report)
		}
	}
}

func TestProcessCommand(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "!process https://shopee.vn/item/55")
	replies := h.drainReplies()

	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(replies))
	}
	if !strings.Contains(replies[1].Content, "https://s.accesstrade.vn/xyz") {
		t.Fatalf("process command reply = %q", replies[1].Content)
	}
}

func TestProcessCommandWithoutArgument(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)

	h.deliver("m1", "!process")
	replies := h.drainReplies()

	if len(replies) != 1 || !strings.Contains(replies[0].Content, "Usage") {
		t.Fatalf("replies = %v, want usage hint", replies)
	}
}

func TestRenderFailureStillDeliversShortLink(t *testing.T) {
	h := newHarness(t, shopeeCampaigns)
	h.renderer.fail = true

	h.deliver("m1", "deal https://shopee.vn/item/123")
	replies := h.drainReplies()

	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(replies))
	}
	final := replies[1]
	if !strings.Contains(final.Content, "https://s.accesstrade.vn/xyz") {
		t.Fatalf("short link missing from degraded reply %q", final.Content)
	}
	if len(final.Media) != 0 {
		t.Fatalf("media attached despite render failure: %v", final.Media)
	}
}

func TestFailedLinkConsumesCooldownSlot(t *testing.T) {
	h := newHarness(t, `{"data":[]}`)

	t0 := time.Now()
	h.pipeline.SetClock(func() time.Time { return t0 })

	h.deliver("m1", "deal https://shopee.vn/item/123")
	h.drainReplies()

	h.deliver("m2", "deal https://shopee.vn/item/123")
	replies := h.drainReplies()

	if len(replies) != 1 || !strings.Contains(replies[0].Content, "wait") {
		t.Fatalf("failed link did not keep its cooldown slot: %v", replies)
	}
}
