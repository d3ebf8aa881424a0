package voluum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	authSessionPath = "/auth/session"
	reportPath      = "/report"

	// The reporting API rejects ranges not snapped to whole hours.
	reportTimeLayout = "2006-01-02T15:00:00.000Z"
)

// ErrNoCredentials indicates neither credential pair is configured.
var ErrNoCredentials = errors.New("voluum: no credentials configured (set email/password or access key id/secret)")

// GroupBy selects the report row granularity.
type GroupBy string

const (
	// GroupByOffer returns one row per offer.
	GroupByOffer GroupBy = "offer"
	// GroupByCampaign returns one row per campaign.
	GroupByCampaign GroupBy = "campaign"
)

// Options parameterise the tracking-platform client.
type Options struct {
	BaseURL         string
	Email           string
	Password        string
	AccessKeyID     string
	AccessKeySecret string
	Timeout         time.Duration
	ReportWindow    time.Duration
	PageLimit       int
}

// Client talks to the Voluum API: session auth plus paginated report fetch.
// Every call is single-attempt with a bounded timeout; callers abort the
// whole cycle on failure rather than retrying.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a tracking-platform client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.ReportWindow <= 0 {
		opts.ReportWindow = 24 * time.Hour
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.voluum.com"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "voluum_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Authenticate exchanges configured credentials for a session token. The
// access key pair wins over email/password when both are present.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var payload map[string]string
	switch {
	case c.opts.AccessKeyID != "" && c.opts.AccessKeySecret != "":
		payload = map[string]string{
			"accessKeyId":     c.opts.AccessKeyID,
			"accessKeySecret": c.opts.AccessKeySecret,
		}
	case c.opts.Email != "" && c.opts.Password != "":
		payload = map[string]string{
			"email":    c.opts.Email,
			"password": c.opts.Password,
		}
	default:
		return "", ErrNoCredentials
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authSessionPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError("auth", resp.StatusCode, payloadBytes)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if result.Token == "" {
		return "", errors.New("voluum auth returned an empty token")
	}
	return result.Token, nil
}

// FetchReport retrieves all report rows for the configured trailing window,
// grouped as requested.
func (c *Client) FetchReport(ctx context.Context, token string, groupBy GroupBy) ([]Row, error) {
	now := time.Now().UTC().Truncate(time.Hour)
	return c.FetchReportRange(ctx, token, groupBy, now.Add(-c.opts.ReportWindow), now)
}

// FetchReportRange retrieves all report rows for an explicit window, grouped
// as requested, following limit/offset pagination until the API signals a
// complete result. Both bounds are truncated to whole hours.
func (c *Client) FetchReportRange(ctx context.Context, token string, groupBy GroupBy, from, to time.Time) ([]Row, error) {
	from = from.UTC().Truncate(time.Hour)
	to = to.UTC().Truncate(time.Hour)
	if !from.Before(to) {
		return nil, fmt.Errorf("report window %s..%s is empty", from.Format(reportTimeLayout), to.Format(reportTimeLayout))
	}

	base := url.Values{}
	base.Set("from", from.Format(reportTimeLayout))
	base.Set("to", to.Format(reportTimeLayout))
	base.Set("tz", "UTC")
	base.Set("groupBy", string(groupBy))

	limit := c.opts.PageLimit
	all := make([]Row, 0, limit)

	for offset := 0; ; offset += limit {
		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("limit", fmt.Sprintf("%d", limit))
		params.Set("offset", fmt.Sprintf("%d", offset))

		page, truncated, err := c.fetchReportPage(ctx, token, params)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < limit || (truncated != nil && !*truncated) {
			break
		}
	}

	c.logger.Debug().Int("rows", len(all)).Str("group_by", string(groupBy)).Msg("report fetched")
	return all, nil
}

func (c *Client) fetchReportPage(ctx context.Context, token string, params url.Values) ([]Row, *bool, error) {
	endpoint := c.baseURL + reportPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create report request: %w", err)
	}
	req.Header.Set("cwauth-token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("report request: %w", err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read report response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, apiError("report", resp.StatusCode, payloadBytes)
	}

	var result struct {
		Rows      []Row `json:"rows"`
		Truncated *bool `json:"truncated"`
	}
	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return nil, nil, fmt.Errorf("decode report response: %w", err)
	}
	return result.Rows, result.Truncated, nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func apiError(op string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Description != "":
			return fmt.Errorf("voluum %s error (%d): %s", op, status, apiErr.Description)
		case apiErr.Message != "":
			return fmt.Errorf("voluum %s error (%d): %s", op, status, apiErr.Message)
		case apiErr.Error != "":
			return fmt.Errorf("voluum %s error (%d): %s", op, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("voluum %s error (%d): %s", op, status, strings.TrimSpace(truncateBody(payload)))
	}
	return fmt.Errorf("voluum %s error (%d)", op, status)
}

func truncateBody(payload []byte) string {
	const max = 200
	if len(payload) > max {
		return string(payload[:max])
	}
	return string(payload)
}
