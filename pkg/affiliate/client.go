package affiliate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hxnam/affibot/pkg/logger"
)

// ErrCampaignNotFound means the campaign list held no approved campaign for
// the configured merchant.
var ErrCampaignNotFound = errors.New("no approved campaign for merchant")

// APIError is a non-success status or unexpected response shape from the
// affiliate network.
type APIError struct {
	Op     string
	Status int
	Reason string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("affiliate %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("affiliate %s: %s", e.Op, e.Reason)
}

type campaign struct {
	ID       string `json:"id"`
	Merchant string `json:"merchant"`
}

type campaignsResponse struct {
	Data []campaign `json:"data"`
}

type createLinkRequest struct {
	CampaignID string   `json:"campaign_id"`
	URLs       []string `json:"urls"`
}

type createLinkResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SuccessLink []struct {
			ShortLink string `json:"short_link"`
		} `json:"success_link"`
	} `json:"data"`
}

// Client converts canonical product links into tracked short-links through
// the AccessTrade API. Every call is a single attempt; retry policy belongs
// to the caller (and the caller's policy is: none).
type Client struct {
	http     *resty.Client
	merchant string
}

func NewClient(baseURL, accessToken, merchant string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Authorization", "Token "+accessToken),
		merchant: merchant,
	}
}

// CampaignID fetches the approved campaign list and returns the ID of the
// first campaign whose merchant matches. List order is the only tie-break.
func (c *Client) CampaignID(ctx context.Context) (string, error) {
	var out campaignsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("approval", "successful").
		SetResult(&out).
		Get("/v1/campaigns")
	if err != nil {
		return "", &APIError{Op: "campaigns", Reason: err.Error()}
	}
	if resp.StatusCode() != 200 {
		return "", &APIError{Op: "campaigns", Status: resp.StatusCode()}
	}

	for _, cp := range out.Data {
		if cp.Merchant == c.merchant {
			return cp.ID, nil
		}
	}
	return "", ErrCampaignNotFound
}

// CreateLink submits a canonical link under a campaign and returns the
// generated short-link.
func (c *Client) CreateLink(ctx context.Context, campaignID, link string) (string, error) {
	var out createLinkResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createLinkRequest{CampaignID: campaignID, URLs: []string{link}}).
		SetResult(&out).
		Post("/v1/product_link/create")
	if err != nil {
		return "", &APIError{Op: "product_link/create", Reason: err.Error()}
	}
	if resp.StatusCode() != 200 {
		return "", &APIError{Op: "product_link/create", Status: resp.StatusCode()}
	}
	if !out.Success || len(out.Data.SuccessLink) == 0 || out.Data.SuccessLink[0].ShortLink == "" {
		return "", &APIError{Op: "product_link/create", Reason: "unexpected response shape"}
	}
	return out.Data.SuccessLink[0].ShortLink, nil
}

// Shorten runs the two-step resolution: campaign lookup, then link creation.
func (c *Client) Shorten(ctx context.Context, link string) (string, error) {
	campaignID, err := c.CampaignID(ctx)
	if err != nil {
		return "", err
	}
	logger.DebugCF("affiliate", "Resolved campaign", map[string]interface{}{
		"merchant":    c.merchant,
		"campaign_id": campaignID,
	})
	return c.CreateLink(ctx, campaignID, link)
}
