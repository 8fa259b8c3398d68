package chat

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is one streaming exchange handed from the webhook path to a worker.
type Task struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	Text          string `json:"text"`
	UserMessageID uint64 `json:"user_message_id"`
}

// Dispatcher starts a Task without blocking the caller on its completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) error
}

// InlineDispatcher runs each task in its own goroutine in this process. The
// concurrency cap lives in Service.Process, behind the per-user lock.
type InlineDispatcher struct {
	run func(ctx context.Context, t Task) error
	wg  sync.WaitGroup
}

func NewInlineDispatcher(run func(ctx context.Context, t Task) error) *InlineDispatcher {
	return &InlineDispatcher{run: run}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, t Task) error {
	// the task outlives the webhook request that dispatched it
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		start := time.Now()
		if err := d.run(ctx, t); err != nil {
			log.Printf("[InlineDispatcher] job=%s user=%s failed cost=%s err=%v", t.JobID, t.UserID, time.Since(start), err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
