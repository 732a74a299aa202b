// Package feed fetches current operational-status records from the upstream
// train-information endpoints. A run needs a complete snapshot: if any one
// endpoint fails, the whole fetch fails rather than silently dropping the
// routes that endpoint covers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "ensenbot/pkg/logx"
)

// StatusRecord is the live status of one route from one feed, valid only
// for the current run.
type StatusRecord struct {
	// RouteID is the feed's route identifier (odpt:railway).
	RouteID string
	// Text is the raw status message for the route.
	Text string
}

// Endpoint is one upstream source with its own credential.
type Endpoint struct {
	Name  string
	URL   string
	Token string
}

type Client struct {
	endpoints []Endpoint
	http      *http.Client
	log       logx.Logger
}

const defaultTimeout = 10 * time.Second

func NewClient(endpoints []Endpoint, timeout time.Duration, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

// FetchAll queries every configured endpoint and concatenates the results.
// Any endpoint failure fails the whole call.
func (c *Client) FetchAll(ctx context.Context) ([]StatusRecord, error) {
	var all []StatusRecord
	for _, ep := range c.endpoints {
		recs, err := c.fetchOne(ctx, ep)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", endpointName(ep), err)
		}
		c.log.Debug("feed fetched", logx.String("endpoint", endpointName(ep)), logx.Int("records", len(recs)))
		all = append(all, recs...)
	}
	return all, nil
}

func (c *Client) fetchOne(ctx context.Context, ep Endpoint) ([]StatusRecord, error) {
	u, err := url.Parse(strings.TrimSpace(ep.URL))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("acl:consumerKey", ep.Token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Drain a little of the body for the log line, never the whole thing.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var raw []statusRecordJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	recs := make([]StatusRecord, 0, len(raw))
	for _, r := range raw {
		if r.Railway == "" {
			continue
		}
		recs = append(recs, StatusRecord{RouteID: r.Railway, Text: r.Text.value})
	}
	return recs, nil
}

func endpointName(ep Endpoint) string {
	if strings.TrimSpace(ep.Name) != "" {
		return ep.Name
	}
	if u, err := url.Parse(ep.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return ep.URL
}

type statusRecordJSON struct {
	Railway string        `json:"odpt:railway"`
	Text    localizedText `json:"odpt:trainInformationText"`
}

// localizedText accepts either a bare string or an ODPT multilingual object
// ({"ja": "...", "en": "..."}); Japanese wins when both are present.
type localizedText struct {
	value string
}

func (t *localizedText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.value = s
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if v, ok := m["ja"]; ok {
		t.value = v
		return nil
	}
	if v, ok := m["en"]; ok {
		t.value = v
		return nil
	}
	for _, v := range m {
		t.value = v
		break
	}
	return nil
}
