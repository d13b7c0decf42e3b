package genesys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIClient wraps the Genesys Cloud REST API for auth, metrics and historical
// queries.
//
// Partial-failure rule: aggregate fetches (metrics across queues and users)
// log and skip per-resource failures instead of aborting the whole snapshot.

type APIClient struct {
	baseURL  string
	loginURL string
	clientID string
	secret   string

	httpc *http.Client
	log   *slog.Logger

	token       string
	tokenExpiry time.Time
}

func NewAPIClient(region, clientID, secret string, log *slog.Logger) *APIClient {
	if region == "" {
		region = "mypurecloud.com"
	}
	if log == nil {
		log = slog.Default()
	}
	return &APIClient{
		baseURL:  "https://api." + region,
		loginURL: "https://login." + region,
		clientID: clientID,
		secret:   secret,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// SetBaseURL overrides both API and login endpoints; used by tests and
// non-standard regions.
func (c *APIClient) SetBaseURL(base string) {
	c.baseURL = base
	c.loginURL = base
}

// Authenticate performs the OAuth2 client-credentials exchange and caches the
// bearer token until shortly before expiry.
func (c *APIClient) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("genesys token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("genesys token request: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("genesys token decode: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("genesys token response missing access_token")
	}

	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return nil
}

// Token returns the cached bearer token, re-authenticating when expired.
func (c *APIClient) Token(ctx context.Context) (string, error) {
	if c.token == "" || time.Now().After(c.tokenExpiry) {
		if err := c.Authenticate(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("genesys %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("genesys %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NotificationChannel is the server-assigned websocket endpoint for the
// notification service.
type NotificationChannel struct {
	ID         string `json:"id"`
	ConnectURI string `json:"connectUri"`
	ExpiresAt  string `json:"expires,omitempty"`
}

// CreateNotificationChannel provisions a notification channel; its ConnectURI
// is the websocket URL the SocketClient dials.
func (c *APIClient) CreateNotificationChannel(ctx context.Context) (NotificationChannel, error) {
	var ch NotificationChannel
	if err := c.do(ctx, http.MethodPost, "/api/v2/notifications/channels", nil, &ch); err != nil {
		return NotificationChannel{}, err
	}
	if ch.ConnectURI == "" {
		return NotificationChannel{}, fmt.Errorf("genesys notification channel missing connectUri")
	}
	return ch, nil
}

// Queue is the subset of the routing queue resource the layer needs.
type Queue struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

func (c *APIClient) ListQueues(ctx context.Context) ([]Queue, error) {
	var page struct {
		Entities []Queue `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v2/routing/queues?pageSize=100", nil, &page); err != nil {
		return nil, err
	}
	return page.Entities, nil
}

// QueueObservations holds one queue's realtime counters plus the service
// level observation when the vendor aligned both result arrays.
type QueueObservations struct {
	QueueID         string
	Waiting         int
	ActiveAgents    int
	AvailableAgents int
	ServiceLevel    *float64
}

type observationQuery struct {
	Filter  observationFilter `json:"filter"`
	Metrics []string          `json:"metrics"`
}

type observationFilter struct {
	Type       string                `json:"type"`
	Predicates []observationPredicate `json:"predicates,omitempty"`
	Clauses    []observationFilter    `json:"clauses,omitempty"`
}

type observationPredicate struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

type observationResult struct {
	Results []struct {
		Group map[string]string `json:"group"`
		Data  []struct {
			Metric string `json:"metric"`
			Stats  struct {
				Count int     `json:"count"`
				Sum   float64 `json:"sum"`
			} `json:"stats"`
		} `json:"data"`
	} `json:"results"`
	// ServiceLevels arrives as a parallel array in some API versions.
	ServiceLevels []float64 `json:"serviceLevels,omitempty"`
}

// QueryQueueObservations fetches realtime counters for the given queues.
//
// The vendor sometimes returns a serviceLevels array that does not line up
// with the results array; misaligned entries are skipped and logged rather
// than guessed at.
func (c *APIClient) QueryQueueObservations(ctx context.Context, queueIDs []string) ([]QueueObservations, error) {
	preds := make([]observationPredicate, 0, len(queueIDs))
	for _, id := range queueIDs {
		preds = append(preds, observationPredicate{Dimension: "queueId", Value: id})
	}
	q := observationQuery{
		Filter:  observationFilter{Type: "or", Predicates: preds},
		Metrics: []string{"oWaiting", "oActiveUsers", "oAvailableUsers", "oServiceLevel"},
	}

	var res observationResult
	if err := c.do(ctx, http.MethodPost, "/api/v2/analytics/queues/observations/query", q, &res); err != nil {
		return nil, err
	}

	alignedLevels := len(res.ServiceLevels) == 0 || len(res.ServiceLevels) == len(res.Results)
	if !alignedLevels {
		c.log.Warn("genesys: serviceLevels misaligned with observation results; skipping levels",
			"results", len(res.Results), "service_levels", len(res.ServiceLevels))
	}

	out := make([]QueueObservations, 0, len(res.Results))
	for i, r := range res.Results {
		obs := QueueObservations{QueueID: r.Group["queueId"]}
		for _, d := range r.Data {
			switch d.Metric {
			case "oWaiting":
				obs.Waiting = d.Stats.Count
			case "oActiveUsers":
				obs.ActiveAgents = d.Stats.Count
			case "oAvailableUsers":
				obs.AvailableAgents = d.Stats.Count
			case "oServiceLevel":
				lvl := clampPercent(d.Stats.Sum)
				obs.ServiceLevel = &lvl
			}
		}
		if obs.ServiceLevel == nil && alignedLevels && i < len(res.ServiceLevels) {
			lvl := clampPercent(res.ServiceLevels[i])
			obs.ServiceLevel = &lvl
		}
		out = append(out, obs)
	}
	return out, nil
}

// User is the subset of the users resource the layer needs.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Presence struct {
		PresenceDefinition struct {
			SystemPresence string `json:"systemPresence"`
		} `json:"presenceDefinition"`
	} `json:"presence"`
}

// ListUsers fetches the agent directory with expanded presence. A presence
// expansion failure for one page is logged and that page skipped.
func (c *APIClient) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	for page := 1; page <= 10; page++ {
		var res struct {
			Entities  []User `json:"entities"`
			PageCount int    `json:"pageCount"`
		}
		path := fmt.Sprintf("/api/v2/users?pageSize=100&pageNumber=%d&expand=presence", page)
		if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
			if page == 1 {
				return nil, err
			}
			c.log.Warn("genesys: user page fetch failed, continuing with partial directory", "page", page, "err", err)
			break
		}
		out = append(out, res.Entities...)
		if page >= res.PageCount {
			break
		}
	}
	return out, nil
}

// ConversationDetail is one historical conversation row.
type ConversationDetail struct {
	ConversationID       string                    `json:"conversationId"`
	ConversationStart    time.Time                 `json:"conversationStart"`
	ConversationEnd      time.Time                 `json:"conversationEnd"`
	OriginatingDirection string                    `json:"originatingDirection"`
	Participants         []ConversationParticipant `json:"participants"`
}

type ConversationParticipant struct {
	Purpose  string                `json:"purpose"`
	UserID   string                `json:"userId"`
	Sessions []ConversationSession `json:"sessions"`
}

type ConversationSession struct {
	Segments []ConversationSegment `json:"segments"`
}

type ConversationSegment struct {
	SegmentType string `json:"segmentType"`
	QueueID     string `json:"queueId"`
	Recording   bool   `json:"recording"`
}

// QueryConversations runs the historical conversation-details query for the
// given window.
func (c *APIClient) QueryConversations(ctx context.Context, from, to time.Time, limit int) ([]ConversationDetail, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	body := map[string]any{
		"interval": fmt.Sprintf("%s/%s", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)),
		"paging":   map[string]int{"pageSize": limit, "pageNumber": 1},
	}
	var res struct {
		Conversations []ConversationDetail `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/analytics/conversations/details/query", body, &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}
