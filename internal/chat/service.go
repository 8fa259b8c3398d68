package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/foodsafety-linebot/internal/ai"
	"github.com/suPer8Hu/foodsafety-linebot/internal/common"
	"github.com/suPer8Hu/foodsafety-linebot/internal/relay"
	"github.com/suPer8Hu/foodsafety-linebot/internal/shortcircuit"
)

const (
	AckText            = "處理中，請稍候..."
	ApologyText        = "Ollama 模型暫時無法回應，請稍後再試。"
	TimeoutApologyText = "回覆逾時，請稍後再試。"
)

var ErrEmptyAnswer = errors.New("backend returned an empty answer")

// Transport is the messaging platform: one direct reply per inbound event and any
// number of later pushes to the same user.
type Transport interface {
	Reply(ctx context.Context, replyToken, text string) error
	relay.Pusher
}

// Inbound is a verified text message from the transport.
type Inbound struct {
	UserID     string
	Text       string
	ReplyToken string
}

type State string

const (
	StateShortCircuited State = "short_circuited"
	StateAcknowledged   State = "acknowledged"
)

type Options struct {
	ContextPairs   int
	FlushBytes     int
	FlushInterval  time.Duration
	RequestTimeout time.Duration
	MaxConcurrent  int
}

func (o Options) withDefaults() Options {
	if o.ContextPairs < 0 {
		o.ContextPairs = 0
	}
	if o.FlushBytes <= 0 {
		o.FlushBytes = 30
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 180 * time.Second
	}
	return o
}

type Service struct {
	repo          *Repo
	provider      ai.Provider
	transport     Transport
	shortcircuits []shortcircuit.Handler
	dispatcher    Dispatcher
	locker        Locker
	slots         chan struct{} // streaming cap, taken after the user lock
	opts          Options
}

func NewService(repo *Repo, provider ai.Provider, transport Transport, opts Options) *Service {
	s := &Service{
		repo:      repo,
		provider:  provider,
		transport: transport,
		locker:    NewKeyedMutex(),
		opts:      opts.withDefaults(),
	}
	if s.opts.MaxConcurrent > 0 {
		s.slots = make(chan struct{}, s.opts.MaxConcurrent)
	}
	s.dispatcher = NewInlineDispatcher(s.Process)
	return s
}

func (s *Service) WithShortCircuits(hs ...shortcircuit.Handler) *Service {
	s.shortcircuits = hs
	return s
}

func (s *Service) WithDispatcher(d Dispatcher) *Service {
	s.dispatcher = d
	return s
}

func (s *Service) WithLocker(l Locker) *Service {
	s.locker = l
	return s
}

func (s *Service) Dispatcher() Dispatcher { return s.dispatcher }

// HandleMessage records the user's message and either answers it synchronously
// through a short-circuit handler or acknowledges it and dispatches the
// streaming task. It returns once the direct reply has been sent.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) (State, error) {
	var userMsgID uint64
	userMsg, err := s.repo.AppendMessage(ctx, in.UserID, ai.RoleUser, in.Text)
	if err != nil {
		// losing one history row is recoverable
		log.Printf("[HandleMessage] append user message failed user=%s err=%v", in.UserID, err)
	} else {
		userMsgID = userMsg.ID
	}

	if reply, ok := shortcircuit.First(in.Text, s.shortcircuits...); ok {
		if err := s.transport.Reply(ctx, in.ReplyToken, reply); err != nil {
			return StateShortCircuited, &relay.DeliveryError{UserID: in.UserID, Err: err}
		}
		return StateShortCircuited, nil
	}

	if err := s.transport.Reply(ctx, in.ReplyToken, AckText); err != nil {
		log.Printf("[HandleMessage] ack reply failed user=%s err=%v", in.UserID, err)
	}

	jobID, err := common.NewULID()
	if err != nil {
		return StateAcknowledged, fmt.Errorf("new job id: %w", err)
	}
	task := Task{
		JobID:         jobID,
		UserID:        in.UserID,
		Text:          in.Text,
		UserMessageID: userMsgID,
	}

	if err := s.repo.CreateJob(ctx, &Job{
		ID:            task.JobID,
		UserID:        task.UserID,
		UserMessageID: task.UserMessageID,
		Prompt:        task.Text,
		Status:        JobQueued,
	}); err != nil {
		log.Printf("[HandleMessage] create job failed user=%s job=%s err=%v", in.UserID, jobID, err)
	}

	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.markFailed(ctx, task.JobID, err)
		s.pushApology(ctx, task.UserID, err)
		return StateAcknowledged, fmt.Errorf("dispatch job %s: %w", task.JobID, err)
	}
	return StateAcknowledged, nil
}

// Process runs the streaming phase of one task: window, backend stream, chunked
// push relay, then persistence of the assistant answer. A non-nil error means the
// task ended Failed; the user has already been sent an apology unless the push
// channel itself failed.
func (s *Service) Process(ctx context.Context, t Task) error {
	start := time.Now()

	unlock, err := s.locker.Lock(ctx, t.UserID)
	if err != nil {
		log.Printf("[Process] lock failed user=%s job=%s err=%v", t.UserID, t.JobID, err)
	} else {
		defer unlock()
	}
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			err := ctx.Err()
			s.pushApology(ctx, t.UserID, err)
			s.markFailed(ctx, t.JobID, err)
			return err
		}
	}
	waitCost := time.Since(start)

	if err := s.repo.UpdateJobStatusRunning(ctx, t.JobID); err != nil {
		log.Printf("[Process] mark running failed job=%s err=%v", t.JobID, err)
	}

	answer, err := s.stream(ctx, t)
	if err != nil {
		var de *relay.DeliveryError
		if errors.As(err, &de) {
			log.Printf("[Process] delivery failed user=%s job=%s err=%v", t.UserID, t.JobID, err)
		} else {
			s.pushApology(ctx, t.UserID, err)
		}
		s.markFailed(ctx, t.JobID, err)
		log.Printf("job_timing_failed job=%s wait=%s total=%s err=%v", t.JobID, waitCost, time.Since(start), err)
		return err
	}

	var resultID *uint64
	msg, err := s.repo.AppendMessage(ctx, t.UserID, ai.RoleAssistant, answer)
	if err != nil {
		// the answer is already with the user
		log.Printf("[Process] append assistant message failed user=%s job=%s err=%v", t.UserID, t.JobID, err)
	} else {
		resultID = &msg.ID
	}

	if err := s.repo.MarkJobSucceeded(ctx, t.JobID, resultID); err != nil {
		log.Printf("[Process] mark succeeded failed job=%s err=%v", t.JobID, err)
	}

	if total := time.Since(start); total > 2*time.Second {
		log.Printf("job_timing job=%s wait=%s total=%s", t.JobID, waitCost, total)
	}
	return nil
}

func (s *Service) stream(ctx context.Context, t Task) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	window, err := s.repo.RecentWindowFor(sctx, t.UserID, s.opts.ContextPairs, t.UserMessageID)
	if err != nil {
		log.Printf("[Process] load window failed user=%s job=%s err=%v", t.UserID, t.JobID, err)
		window = nil
	}
	messages := append(window, ai.Message{Role: ai.RoleUser, Content: t.Text})

	chunks, errs := ai.Fragments(sctx, s.provider, messages)
	r := relay.New(s.transport, relay.Policy{
		MaxBytes:    s.opts.FlushBytes,
		MaxInterval: s.opts.FlushInterval,
	})
	answer, err := r.Run(sctx, t.UserID, chunks, errs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ai.ErrBackendTimeout) {
			err = fmt.Errorf("%w: %v", ai.ErrBackendTimeout, err)
		}
		return "", err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

func apologyFor(err error) string {
	if errors.Is(err, ai.ErrBackendTimeout) {
		return TimeoutApologyText
	}
	return ApologyText
}

func (s *Service) pushApology(ctx context.Context, userID string, cause error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.transport.Push(pctx, userID, apologyFor(cause)); err != nil {
		log.Printf("[Process] apology push failed user=%s cause=%v err=%v", userID, cause, err)
	}
}

func (s *Service) markFailed(ctx context.Context, jobID string, cause error) {
	if err := s.repo.MarkJobFailed(context.WithoutCancel(ctx), jobID, cause.Error()); err != nil {
		log.Printf("[Process] mark failed failed job=%s err=%v", jobID, err)
	}
}

func (s *Service) ListMessages(ctx context.Context, userID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, userID, limit, beforeID)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}
