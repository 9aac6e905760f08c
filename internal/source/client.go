package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Codeforces API root.
const DefaultBaseURL = "https://codeforces.com/api"

// DefaultTimeout bounds a single listing fetch so one slow poll can never
// stall the notification cycle for long.
const DefaultTimeout = 10 * time.Second

// Sentinel errors for the two failure classes callers branch on.
//
//   - ErrUnavailable: transport-level trouble (DNS, timeout, non-2xx).
//   - ErrBadPayload: the API answered but the payload is unusable
//     (non-OK status marker, undecodable body, missing fields).
//
// Both are recoverable; the scheduler skips the cycle and retries on the
// next tick. The client never retries internally.
var (
	ErrUnavailable = errors.New("contest source unavailable")
	ErrBadPayload  = errors.New("contest source returned bad payload")
)

// Contest is the normalized view of one upcoming contest.
type Contest struct {
	ID    int64
	Name  string
	Start time.Time
}

// StartsIn returns the time remaining until the contest starts.
func (c Contest) StartsIn(now time.Time) time.Duration { return c.Start.Sub(now) }

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches the upcoming-contest list. It is a pure read-through: no
// caching, no retries, no state.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// Wire shapes of the contest.list response. Pointer fields distinguish
// "absent" from zero so missing required fields surface as ErrBadPayload.
type listResponse struct {
	Status  string        `json:"status"`
	Comment string        `json:"comment"`
	Result  []listContest `json:"result"`
}

type listContest struct {
	ID               *int64  `json:"id"`
	Name             string  `json:"name"`
	Phase            string  `json:"phase"`
	StartTimeSeconds *int64  `json:"startTimeSeconds"`
	Type             string  `json:"type"`
	DurationSeconds  float64 `json:"durationSeconds"`
}

const phaseBefore = "BEFORE"

// FetchUpcoming returns contests that have not started yet, i.e. phase BEFORE
// with a start time strictly in the future.
func (c *Client) FetchUpcoming(ctx context.Context) ([]Contest, error) {
	url := c.baseURL + "/contest.list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrBadPayload, err)
	}
	if body.Status != "OK" {
		comment := strings.TrimSpace(body.Comment)
		if comment == "" {
			comment = "no comment"
		}
		return nil, fmt.Errorf("%w: status %q (%s)", ErrBadPayload, body.Status, comment)
	}

	now := c.now()
	out := make([]Contest, 0, 8)
	for _, rc := range body.Result {
		if rc.Phase != phaseBefore {
			continue
		}
		if rc.ID == nil || rc.StartTimeSeconds == nil {
			return nil, fmt.Errorf("%w: contest entry missing id or startTimeSeconds", ErrBadPayload)
		}
		start := time.Unix(*rc.StartTimeSeconds, 0)
		if !start.After(now) {
			continue
		}
		out = append(out, Contest{ID: *rc.ID, Name: rc.Name, Start: start})
	}
	return out, nil
}
