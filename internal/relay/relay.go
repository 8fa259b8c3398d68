// Package relay turns a fragment sequence into a series of push deliveries.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Pusher delivers text to a user outside of any request/reply window.
type Pusher interface {
	Push(ctx context.Context, userID, text string) error
}

// DeliveryError means the user channel itself failed; nothing more can be sent.
type DeliveryError struct {
	UserID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push to %s failed: %v", e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Policy flushes when the buffer reaches MaxBytes or MaxInterval has passed since
// the previous flush, whichever comes first. Zero values disable that trigger.
type Policy struct {
	MaxBytes    int
	MaxInterval time.Duration
}

// Session is the state of one in-flight relay. It is owned by a single task.
type Session struct {
	UserID    string
	answer    strings.Builder
	buf       strings.Builder
	lastFlush time.Time
	Flushes   int
}

func (s *Session) Answer() string { return s.answer.String() }

type Relay struct {
	pusher Pusher
	policy Policy
	now    func() time.Time
}

func New(pusher Pusher, policy Policy) *Relay {
	return &Relay{pusher: pusher, policy: policy, now: time.Now}
}

// Run consumes chunks until it is closed, pushing buffered text to userID
// according to the policy, and returns the full answer. If errs yields an error
// the residual buffer is dropped and the error is returned.
func (r *Relay) Run(ctx context.Context, userID string, chunks <-chan string, errs <-chan error) (string, error) {
	s := &Session{UserID: userID, lastFlush: r.now()}

	var tick <-chan time.Time
	var timer *time.Timer
	if r.policy.MaxInterval > 0 {
		timer = time.NewTimer(r.policy.MaxInterval)
		defer timer.Stop()
		tick = timer.C
	}
	resetTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.policy.MaxInterval)
	}

	for chunks != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			s.answer.WriteString(c)
			s.buf.WriteString(c)
			if r.due(s) {
				if err := r.flush(ctx, s); err != nil {
					return s.Answer(), err
				}
				resetTimer()
			}

		case <-tick:
			if s.buf.Len() > 0 {
				if err := r.flush(ctx, s); err != nil {
					return s.Answer(), err
				}
			}
			timer.Reset(r.policy.MaxInterval)

		case <-ctx.Done():
			return s.Answer(), ctx.Err()
		}
	}

	if err := <-errs; err != nil {
		return s.Answer(), err
	}

	if s.buf.Len() > 0 {
		if err := r.flush(ctx, s); err != nil {
			return s.Answer(), err
		}
	}
	return s.Answer(), nil
}

func (r *Relay) due(s *Session) bool {
	if r.policy.MaxBytes > 0 && s.buf.Len() >= r.policy.MaxBytes {
		return true
	}
	if r.policy.MaxInterval > 0 && r.now().Sub(s.lastFlush) >= r.policy.MaxInterval {
		return true
	}
	return false
}

func (r *Relay) flush(ctx context.Context, s *Session) error {
	text := s.buf.String()
	s.buf.Reset()
	s.lastFlush = r.now()
	s.Flushes++
	if err := r.pusher.Push(ctx, s.UserID, text); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &DeliveryError{UserID: s.UserID, Err: err}
	}
	return nil
}
