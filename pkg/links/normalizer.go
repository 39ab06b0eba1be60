package links

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hxnam/affibot/pkg/logger"
)

const (
	canonicalDomain = "shopee.vn"
	shortenerDomain = "shp.ee"
)

// ErrInvalidDomain means the link, after any expansion, is not on the
// canonical e-commerce domain.
var ErrInvalidDomain = errors.New("link is not on an accepted domain")

type ExpandKind string

const (
	ExpandTimeout   ExpandKind = "timeout"
	ExpandBadStatus ExpandKind = "bad_status"
	ExpandTransport ExpandKind = "transport"
)

// ExpandError carries the failure class of a redirect resolution. The user
// boundary collapses all kinds into one message; logs keep the distinction.
type ExpandError struct {
	Kind   ExpandKind
	Status int
	Err    error
}

func (e *ExpandError) Error() string {
	if e.Kind == ExpandBadStatus {
		return fmt.Sprintf("expand link: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("expand link (%s): %v", e.Kind, e.Err)
}

func (e *ExpandError) Unwrap() error { return e.Err }

// Normalizer resolves shortener links to their canonical destination and
// validates domain membership. It issues a single HEAD request per expansion
// and never fetches response bodies.
type Normalizer struct {
	client *http.Client
}

func NewNormalizer(timeout time.Duration) *Normalizer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Normalizer{
		client: &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient swaps the underlying client. Used by tests to route the fixed
// shortener hosts at a local server.
func (n *Normalizer) SetHTTPClient(client *http.Client) {
	n.client = client
}

// Normalize returns the canonical form of link. Shortener links are expanded
// over the network first; already-canonical links pass through untouched.
// Returns *ExpandError when expansion fails, ErrInvalidDomain when the result
// is not on the canonical domain.
func (n *Normalizer) Normalize(ctx context.Context, link string) (string, error) {
	resolved := link
	if containsDomain(link, shortenerDomain) {
		expanded, err := n.expand(ctx, link)
		if err != nil {
			return "", err
		}
		logger.DebugCF("links", "Expanded shortener link", map[string]interface{}{
			"short":    link,
			"resolved": expanded,
		})
		resolved = expanded
	}

	if !containsDomain(resolved, canonicalDomain) {
		return "", ErrInvalidDomain
	}
	return resolved, nil
}

// expand follows redirects with a HEAD request and returns the final URL.
func (n *Normalizer) expand(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", &ExpandError{Kind: ExpandTransport, Err: err}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return "", &ExpandError{Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ExpandError{Kind: ExpandBadStatus, Status: resp.StatusCode}
	}
	return resp.Request.URL.String(), nil
}

func classifyTransportError(err error) ExpandKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ExpandTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ExpandTimeout
	}
	return ExpandTransport
}

// containsDomain is a plain substring test. Domain validation here is
// membership in a fixed known set, not general URL parsing.
func containsDomain(link, domain string) bool {
	return strings.Contains(link, domain)
}
