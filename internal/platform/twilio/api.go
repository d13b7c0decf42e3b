package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIClient wraps the Twilio REST API (calls resource) used for polling and
// historical queries. Twilio has no queue/presence surface here, so the
// adapter negotiates a narrower capability set than Genesys.

const defaultBaseURL = "https://api.twilio.com"

type APIClient struct {
	baseURL    string
	accountSID string
	authToken  string

	httpc *http.Client
	log   *slog.Logger
}

func NewAPIClient(accountSID, authToken string, log *slog.Logger) *APIClient {
	if log == nil {
		log = slog.Default()
	}
	return &APIClient{
		baseURL:    defaultBaseURL,
		accountSID: accountSID,
		authToken:  authToken,
		httpc:      &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (c *APIClient) SetBaseURL(base string) { c.baseURL = base }

// Ping verifies credentials with a minimal account fetch.
func (c *APIClient) Ping(ctx context.Context) error {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s.json", c.accountSID)
	var out struct {
		Status string `json:"status"`
	}
	return c.get(ctx, path, nil, &out)
}

// apiCall mirrors Twilio's JSON call resource.
type apiCall struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
	StartTime string `json:"start_time"`
	Duration  string `json:"duration"`
}

// ListCalls fetches call records started inside [from, to]. Rows that fail to
// parse are logged and skipped; the page is never aborted for one bad row.
func (c *APIClient) ListCalls(ctx context.Context, from, to time.Time, limit int) ([]CallRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	q := url.Values{}
	q.Set("StartTime>", from.UTC().Format("2006-01-02"))
	q.Set("StartTime<", to.UTC().Add(24*time.Hour).Format("2006-01-02"))
	q.Set("PageSize", strconv.Itoa(limit))

	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", c.accountSID)
	var res struct {
		Calls []apiCall `json:"calls"`
	}
	if err := c.get(ctx, path, q, &res); err != nil {
		return nil, err
	}

	out := make([]CallRecord, 0, len(res.Calls))
	for _, raw := range res.Calls {
		rec, err := parseCall(raw)
		if err != nil {
			c.log.Warn("twilio: skipping unparsable call record", "sid", raw.SID, "err", err)
			continue
		}
		// The date-granular StartTime filter overshoots; trim to the window.
		if !rec.StartTime.IsZero() && (rec.StartTime.Before(from) || rec.StartTime.After(to)) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseCall(raw apiCall) (CallRecord, error) {
	if raw.SID == "" {
		return CallRecord{}, fmt.Errorf("missing sid")
	}
	rec := CallRecord{
		SID:       raw.SID,
		Status:    raw.Status,
		Direction: raw.Direction,
		From:      raw.From,
		To:        raw.To,
	}
	if raw.StartTime != "" {
		t, err := time.Parse(time.RFC1123Z, raw.StartTime)
		if err != nil {
			return CallRecord{}, fmt.Errorf("start_time: %w", err)
		}
		rec.StartTime = t.UTC()
	}
	if raw.Duration != "" {
		d, err := strconv.Atoi(raw.Duration)
		if err != nil {
			return CallRecord{}, fmt.Errorf("duration: %w", err)
		}
		rec.Duration = &d
	}
	return rec, nil
}

func (c *APIClient) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("twilio GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("twilio GET %s: unauthorized", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("twilio GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
