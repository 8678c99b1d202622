package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/scoreingest/internal/domain/dispatch"
	"github.com/okian/scoreingest/pkg/logger"
)

// result is the outcome of one import request.
type result struct {
	importID string
	status   int
	resp     dispatch.Response
	err      error
}

func (r result) ok() bool { return r.err == nil && r.status == http.StatusOK && r.resp.Success && r.resp.Body != nil }

type client struct {
	http    *http.Client
	baseURL string
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{http: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

func (c *client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// postImport submits one import and decodes the shared response shape.
func (c *client) postImport(ctx context.Context, body ImportRequest) result {
	res := result{importID: body.ImportID}
	payload, err := json.Marshal(body)
	if err != nil {
		res.err = fmt.Errorf("marshal import %s: %w", body.ImportID, err)
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/imports", bytes.NewReader(payload))
	if err != nil {
		res.err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		res.err = err
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	res.status = resp.StatusCode
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		res.err = err
		return res
	}
	if err := json.Unmarshal(raw, &res.resp); err != nil {
		res.err = fmt.Errorf("decode import %s response: %w", body.ImportID, err)
	}
	return res
}

// submitAll posts every import with at most workers requests in flight.
// rename maps each import to the id it is sent under.
func submitAll(ctx context.Context, c *client, imports []ImportRequest, workers int, rename func(string) string, verbose bool) []result {
	results := make([]result, len(imports))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, imp := range imports {
		imp.ImportID = rename(imp.ImportID)
		g.Go(func() error {
			results[i] = c.postImport(gctx, imp)
			if verbose {
				logger.Get().Info(gctx, "import submitted",
					logger.String("importID", imp.ImportID),
					logger.Int("status", results[i].status),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
