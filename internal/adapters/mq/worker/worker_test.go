package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/scoreingest/internal/adapters/mq/queue"
	"github.com/okian/scoreingest/internal/adapters/mq/worker"
	"github.com/okian/scoreingest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
}

func await(q *queue.InMemoryQueue, id string) queue.Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := q.Await(ctx, id)
	So(err, ShouldBeNil)
	return out
}

func TestPool(t *testing.T) {
	Convey("Given a pool over an in-memory queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithRetryDelay(time.Millisecond), queue.WithMaxAttempts(3))
		defer q.Close()

		var flaky, running, peak atomic.Int32
		release := make(chan struct{})
		handlers := map[string]worker.Handler{
			"echo": func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
				return payload, nil
			},
			"boom": func(context.Context, json.RawMessage) (json.RawMessage, error) {
				panic("kaboom")
			},
			"flaky": func(context.Context, json.RawMessage) (json.RawMessage, error) {
				if flaky.Add(1) < 3 {
					return json.RawMessage(`"partial"`), errors.New("transient")
				}
				return json.RawMessage(`"ok"`), nil
			},
			"slow": func(context.Context, json.RawMessage) (json.RawMessage, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
				return nil, nil
			},
			"timeout": func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		pool := worker.NewPool(3, q, handlers,
			worker.WithLogger(logger.Nop()),
			worker.WithJobTimeout(200*time.Millisecond),
		)
		pool.Start(ctx)
		defer pool.Shutdown(context.Background())

		So(pool.Size(), ShouldEqual, 3)

		Convey("A job's result is delivered to its waiter", func() {
			_, err := q.Enqueue(ctx, queue.Job{ID: "e1", Kind: "echo", Payload: json.RawMessage(`{"x":1}`)})
			So(err, ShouldBeNil)
			out := await(q, "e1")
			So(out.Err, ShouldBeEmpty)
			So(string(out.Result), ShouldEqual, `{"x":1}`)
		})

		Convey("A panic fails only its own job and is not retried", func() {
			_, _ = q.Enqueue(ctx, queue.Job{ID: "p1", Kind: "boom"})
			_, _ = q.Enqueue(ctx, queue.Job{ID: "e2", Kind: "echo", Payload: json.RawMessage(`1`)})

			out := await(q, "p1")
			So(out.Attempts, ShouldEqual, 1)
			So(out.Err, ShouldContainSubstring, "kaboom")

			out = await(q, "e2")
			So(string(out.Result), ShouldEqual, "1")
		})

		Convey("Failed attempts are retried until one succeeds", func() {
			_, _ = q.Enqueue(ctx, queue.Job{ID: "f1", Kind: "flaky"})
			out := await(q, "f1")
			So(out.Err, ShouldBeEmpty)
			So(out.Attempts, ShouldEqual, 3)
			So(string(out.Result), ShouldEqual, `"ok"`)
		})

		Convey("Unknown kinds fail without retry", func() {
			_, _ = q.Enqueue(ctx, queue.Job{ID: "u1", Kind: "nope"})
			out := await(q, "u1")
			So(out.Attempts, ShouldEqual, 1)
			So(out.Err, ShouldContainSubstring, worker.ErrUnknownKind.Error())
		})

		Convey("Jobs run concurrently up to the pool size", func() {
			for i := 0; i < 5; i++ {
				_, _ = q.Enqueue(ctx, queue.Job{ID: fmt.Sprintf("s%d", i), Kind: "slow"})
			}
			So(func() bool {
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					if running.Load() == 3 {
						return true
					}
					time.Sleep(5 * time.Millisecond)
				}
				return false
			}(), ShouldBeTrue)
			close(release)
			for i := 0; i < 5; i++ {
				await(q, fmt.Sprintf("s%d", i))
			}
			So(peak.Load(), ShouldEqual, 3)
		})

		Convey("A handler past its timeout is cancelled", func() {
			_, _ = q.Enqueue(ctx, queue.Job{ID: "t1", Kind: "timeout"})
			out := await(q, "t1")
			So(out.Err, ShouldContainSubstring, context.DeadlineExceeded.Error())
			So(pool.Processed(), ShouldBeGreaterThanOrEqualTo, 1)
		})
	})
}

func TestPoolShutdown(t *testing.T) {
	Convey("Shutting down a pool that never started returns at once", t, func() {
		q := queue.NewInMemoryQueue()
		defer q.Close()
		pool := worker.NewPool(2, q, nil, worker.WithLogger(logger.Nop()))
		So(pool.Shutdown(context.Background()), ShouldBeNil)
		So(pool.Shutdown(context.Background()), ShouldBeNil)
	})

	Convey("A started pool stops when its queue closes", t, func() {
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(2, q, map[string]worker.Handler{}, worker.WithLogger(logger.Nop()))
		pool.Start(context.Background())
		So(q.Close(), ShouldBeNil)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		So(pool.Shutdown(ctx), ShouldBeNil)
	})
}
