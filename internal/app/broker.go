package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/scoreingest/internal/adapters/mq/queue"
	"github.com/okian/scoreingest/internal/adapters/mq/worker"
	"github.com/okian/scoreingest/internal/domain/dispatch"
)

// queueBroker lets the distributed dispatcher publish to and await the
// in-memory queue.
type queueBroker struct {
	q queue.Queue
}

func (b queueBroker) Publish(ctx context.Context, kind, id string, payload json.RawMessage) error {
	// A known id is not an error: the caller awaits the existing job.
	_, err := b.q.Enqueue(ctx, queue.Job{ID: id, Kind: kind, Payload: payload})
	return err
}

func (b queueBroker) Await(ctx context.Context, id string) (dispatch.JobResult, error) {
	out, err := b.q.Await(ctx, id)
	if err != nil {
		return dispatch.JobResult{}, err
	}
	// Panics and unknown kinds finish without a result.
	if len(out.Result) == 0 {
		return dispatch.JobResult{StatusCode: http.StatusInternalServerError, Description: out.Err}, nil
	}
	var res dispatch.JobResult
	if err := json.Unmarshal(out.Result, &res); err != nil {
		return dispatch.JobResult{}, fmt.Errorf("%w: job %s: %v", ErrBadOutcome, id, err)
	}
	return res, nil
}

// importHandler runs score-import jobs on a worker. The encoded result is
// kept even when the attempt fails, so the last attempt's result is final.
func importHandler(runner *dispatch.Runner) worker.Handler {
	run := dispatch.Handler(runner)
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		res, err := run(ctx, payload)
		out, merr := json.Marshal(res)
		if merr != nil {
			return nil, merr
		}
		return out, err
	}
}
