// Package scorehost imports IIDX scores from a third-party score hosting
// API. Pages are pulled lazily under a client-side rate limit, and the
// user's dans come from the same API.
package scorehost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/okian/scoreingest/internal/domain/failure"
	"github.com/okian/scoreingest/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultRPS     = 5
	defaultTimeout = 10 * time.Second
	sourceName     = "score host"
)

// Client talks to the score host.
type Client struct {
	baseURL string
	client  *fasthttp.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClient creates a client for baseURL allowing rps requests per second.
func NewClient(baseURL string, rps float64, timeout time.Duration) *Client {
	if rps <= 0 {
		rps = defaultRPS
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		timeout: timeout,
	}
}

type scoresPage struct {
	Scores []json.RawMessage `json:"scores"`
}

// Profile is the user's profile on the score host.
type Profile struct {
	SPDan string `json:"spDan"`
	DPDan string `json:"dpDan"`
}

// Scores returns one page of the user's scores for playtype.
func (c *Client) Scores(ctx context.Context, apiKey, playtype string, page int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("playtype", playtype)
	q.Set("page", strconv.Itoa(page))
	var out scoresPage
	if err := c.get(ctx, "/api/v1/scores?"+q.Encode(), apiKey, &out); err != nil {
		return nil, err
	}
	return out.Scores, nil
}

// Profile returns the user's profile.
func (c *Client) Profile(ctx context.Context, apiKey string) (Profile, error) {
	var out Profile
	err := c.get(ctx, "/api/v1/profile", apiKey, &out)
	return out, err
}

// get performs one rate-limited request. Auth rejections and transport
// failures come back as fatal import errors.
func (c *Client) get(ctx context.Context, path, apiKey string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	start := time.Now()
	err := c.client.DoDeadline(req, resp, deadline)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordSourceRequest("scorehost", "transport_error", elapsed)
		return failure.Unreachable(sourceName, err)
	}
	metrics.RecordSourceRequest("scorehost", strconv.Itoa(resp.StatusCode()), elapsed)

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return failure.Fatal(http.StatusUnauthorized, "the score host rejected your API key")
	case code != fasthttp.StatusOK:
		return failure.Unreachable(sourceName, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, code))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return failure.FatalWrap(http.StatusBadGateway, "the score host returned a malformed response", err)
	}
	return nil
}
