package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, campaigns string, createStatus int, createBody string) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Token test-token" {
			t.Errorf("Authorization = %q, want Token test-token", got)
		}
		switch r.URL.Path {
		case "/v1/campaigns":
			if r.URL.Query().Get("approval") != "successful" {
				t.Errorf("approval query = %q, want successful", r.URL.Query().Get("approval"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(campaigns))
		case "/v1/product_link/create":
			var req createLinkRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode create request: %v", err)
			}
			if len(req.URLs) != 1 {
				t.Errorf("urls = %v, want one element", req.URLs)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(createStatus)
			w.Write([]byte(createBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, &calls
}

const campaignList = `{"data":[{"id":"c-lazada","merchant":"lazada"},{"id":"c-shopee-1","merchant":"shopee"},{"id":"c-shopee-2","merchant":"shopee"}]}`

func TestShortenHappyPath(t *testing.T) {
	srv, _ := newTestServer(t, campaignList, http.StatusOK,
		`{"success":true,"data":{"success_link":[{"short_link":"https://s.accesstrade.vn/xyz"}]}}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", "shopee", time.Second)
	short, err := c.Shorten(context.Background(), "https://shopee.vn/item/123")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if short != "https://s.accesstrade.vn/xyz" {
		t.Fatalf("short link = %q", short)
	}
}

func TestCampaignFirstMatchWins(t *testing.T) {
	srv, _ := newTestServer(t, campaignList, http.StatusOK, `{}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", "shopee", time.Second)
	id, err := c.CampaignID(context.Background())
	if err != nil {
		t.Fatalf("CampaignID: %v", err)
	}
	if id != "c-shopee-1" {
		t.Fatalf("campaign id = %q, want first match c-shopee-1", id)
	}
}

func TestCampaignNotFound(t *testing.T) {
	srv, calls := newTestServer(t, `{"data":[{"id":"c-lazada","merchant":"lazada"}]}`, http.StatusOK, `{}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", "shopee", time.Second)
	_, err := c.Shorten(context.Background(), "https://shopee.vn/item/123")
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("err = %v, want ErrCampaignNotFound", err)
	}
	for _, call := range *calls {
		if call == "POST /v1/product_link/create" {
			t.Fatalf("link creation attempted after campaign lookup failed")
		}
	}
}

func TestCreateLinkNonSuccessStatus(t *testing.T) {
	srv, _ := newTestServer(t, campaignList, http.StatusForbidden, `{}`)
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", "shopee", time.Second)
	_, err := c.Shorten(context.Background(), "https://shopee.vn/item/123")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", apiErr.Status)
	}
}

func TestCreateLinkMalformedResponse(t *testing.T) {
	cases := []string{
		`{"success":false}`,
		`{"success":true,"data":{"success_link":[]}}`,
		`{"success":true,"data":{"success_link":[{"short_link":""}]}}`,
	}
	for _, body := range cases {
		srv, _ := newTestServer(t, campaignList, http.StatusOK, body)
		c := NewClient(srv.URL, "test-token", "shopee", time.Second)
		_, err := c.Shorten(context.Background(), "https://shopee.vn/item/123")
		srv.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("body %s: err = %v, want *APIError", body, err)
		}
	}
}
