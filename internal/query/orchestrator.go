// Package query runs one user question through the browser: compose, navigate,
// detect challenges and crashes, retry within a fixed budget, extract, remember.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gtalk/internal/browser"
	"gtalk/internal/config"
	"gtalk/internal/extract"
	"gtalk/internal/memory"
	"gtalk/internal/transcript"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrChallengeExhausted = errors.New("challenge page persisted after all retries")
	ErrNoAnswer           = errors.New("no AI answer found")
	ErrDriverUnreachable  = errors.New("browser unreachable")
)

// Outcome is the terminal state of one Query call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoAnswer
	OutcomeChallengeExhausted
	OutcomeDriverUnreachable
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoAnswer:
		return "no_answer"
	case OutcomeChallengeExhausted:
		return "challenge_exhausted"
	case OutcomeDriverUnreachable:
		return "driver_unreachable"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes a finished query. Err is set for every outcome but success.
type Result struct {
	ID       string
	Query    string
	Outcome  Outcome
	Blocks   []extract.Block
	Attempts int
	Err      error
}

// Sessions is the part of the session manager a query needs.
type Sessions interface {
	EnsureSession(ctx context.Context) (*browser.Session, error)
	Invalidate()
}

// Options are the tuning knobs of the attempt loop.
type Options struct {
	SearchHost    string
	MaxRetries    int
	RetryDelay    time.Duration
	SettleDelay   time.Duration
	ContentWait   time.Duration
	PostWaitDelay time.Duration
	CrashMarkers  []string
}

func OptionsFromConfig(cfg config.QueryConfig) Options {
	return Options{
		SearchHost:    cfg.SearchHost,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.GetRetryDelay(),
		SettleDelay:   cfg.GetSettleDelay(),
		ContentWait:   cfg.GetContentWait(),
		PostWaitDelay: cfg.GetPostWaitDelay(),
		CrashMarkers:  cfg.GetCrashMarkers(),
	}
}

// Orchestrator owns the conversation memory and drives queries one at a time.
type Orchestrator struct {
	opts      Options
	sessions  Sessions
	extractor *extract.Extractor
	memory    *memory.Conversation
	reporter  Reporter
	sink      EventSink
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	mu sync.Mutex
}

func New(opts Options, sessions Sessions, extractor *extract.Extractor, mem *memory.Conversation, logger *zap.Logger) *Orchestrator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if extractor == nil {
		extractor = extract.New(extract.DefaultLayout())
	}
	if mem == nil {
		mem = memory.NewConversation(memory.DefaultWordLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		opts:      opts,
		sessions:  sessions,
		extractor: extractor,
		memory:    mem,
		reporter:  NopReporter{},
		sink:      nopSink{},
		logger:    logger.Named("query"),
		sleep:     sleepContext,
	}
}

// SetReporter replaces the display surface. nil restores the silent default.
func (o *Orchestrator) SetReporter(r Reporter) {
	if r == nil {
		r = NopReporter{}
	}
	o.mu.Lock()
	o.reporter = r
	o.mu.Unlock()
}

// SetEventSink attaches a transcript. nil detaches it.
func (o *Orchestrator) SetEventSink(s EventSink) {
	if s == nil {
		s = nopSink{}
	}
	o.mu.Lock()
	o.sink = s
	o.mu.Unlock()
}

func (o *Orchestrator) Memory() *memory.Conversation { return o.memory }

// QueryOption adjusts a single Query call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	fresh bool
}

// WithFreshMemory clears conversation memory before the query is composed.
func WithFreshMemory() QueryOption {
	return func(q *queryOptions) { q.fresh = true }
}

// Query runs text through the attempt loop and reports progress to the reporter.
// The error is non-nil only when the browser cannot be started (*browser.SessionInitError)
// or ctx ends; every other failure is described by the Result.
func (o *Orchestrator) Query(ctx context.Context, text string, opts ...QueryOption) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var qo queryOptions
	for _, opt := range opts {
		opt(&qo)
	}
	if qo.fresh {
		o.memory.Reset()
	}

	res := Result{ID: uuid.NewString(), Query: text}
	log := o.logger.With(zap.String("query_id", res.ID))
	total := o.opts.MaxRetries + 1

	for attempt := 0; attempt < total; attempt++ {
		res.Attempts = attempt + 1
		o.sink.Record(transcript.EventAttempt, res.ID, map[string]any{"attempt": attempt + 1, "of": total, "query": text})

		step := o.attempt(ctx, log, text)
		switch step.verdict {
		case verdictFatal:
			log.Debug("query aborted", zap.Int("attempt", attempt+1), zap.Error(step.err))
			return res, step.err

		case verdictAnswer:
			res.Outcome = OutcomeSuccess
			res.Blocks = step.blocks
			if o.memory.Update(step.blocks) {
				log.Debug("conversation memory replaced")
			}
			o.sink.Record(transcript.EventSuccess, res.ID, map[string]any{
				"attempt":       attempt + 1,
				"blocks":        len(step.blocks),
				"content_ready": step.contentReady,
			})
			o.reporter.Answer(step.blocks)
			return res, nil

		case verdictNoAnswer:
			res.Outcome = OutcomeNoAnswer
			res.Err = ErrNoAnswer
			o.sink.Record(transcript.EventNoAnswer, res.ID, map[string]any{"attempt": attempt + 1, "content_ready": step.contentReady})
			o.reporter.NoAnswer()
			return res, nil

		case verdictChallenge:
			o.sink.Record(transcript.EventChallenge, res.ID, map[string]any{"attempt": attempt + 1})
			if attempt+1 >= total {
				log.Warn("challenge page persisted", zap.Int("attempts", total))
				res.Outcome = OutcomeChallengeExhausted
				res.Err = ErrChallengeExhausted
				o.reporter.ChallengeExhausted()
				return res, nil
			}
			wait := time.Duration(attempt+1) * o.opts.RetryDelay
			log.Info("challenge page detected, backing off", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
			o.reporter.ChallengeRetry(wait, attempt+2, total)
			if err := o.sleep(ctx, wait); err != nil {
				return res, err
			}

		case verdictCrash:
			log.Warn("browser unreachable, dropping session", zap.Int("attempt", attempt+1), zap.Error(step.err))
			o.sessions.Invalidate()
			o.sink.Record(transcript.EventCrash, res.ID, map[string]any{"attempt": attempt + 1, "error": step.err.Error()})
			o.reporter.Crashed(step.err)
			if attempt+1 >= total {
				res.Outcome = OutcomeDriverUnreachable
				res.Err = fmt.Errorf("%w: %w", ErrDriverUnreachable, step.err)
				return res, nil
			}

		case verdictFailed:
			log.Error("query failed", zap.Int("attempt", attempt+1), zap.Error(step.err))
			res.Outcome = OutcomeFailed
			res.Err = step.err
			o.sink.Record(transcript.EventError, res.ID, map[string]any{"attempt": attempt + 1, "error": step.err.Error()})
			o.reporter.Failed(step.err)
			return res, nil
		}
	}

	return res, nil
}

type verdict int

const (
	verdictAnswer verdict = iota
	verdictNoAnswer
	verdictChallenge
	verdictCrash
	verdictFailed
	verdictFatal
)

type attemptResult struct {
	verdict      verdict
	blocks       []extract.Block
	contentReady bool
	err          error
}

// attempt runs one navigate, check, wait, extract cycle on the current session.
func (o *Orchestrator) attempt(ctx context.Context, log *zap.Logger, text string) attemptResult {
	sess, err := o.sessions.EnsureSession(ctx)
	if err != nil {
		return attemptResult{verdict: verdictFatal, err: err}
	}

	o.reporter.Searching()
	target := BuildURL(o.opts.SearchHost, ComposeQuery(o.memory.Summary(), text))
	log.Debug("navigating", zap.String("session_id", sess.ID), zap.String("url", target))

	if err := sess.Driver.Navigate(ctx, target); err != nil {
		return o.classify(ctx, err)
	}
	if err := o.sleep(ctx, o.opts.SettleDelay); err != nil {
		return attemptResult{verdict: verdictFatal, err: err}
	}

	page, err := sess.Driver.HTML(ctx)
	if err != nil {
		return o.classify(ctx, err)
	}
	if IsChallenge(page) {
		return attemptResult{verdict: verdictChallenge}
	}

	// The content wait is best effort: the answer may already be on the page.
	ready, waitErr := sess.Driver.WaitForSelector(ctx, o.extractor.Layout().Ready, o.opts.ContentWait)
	if ctx.Err() != nil {
		return attemptResult{verdict: verdictFatal, err: ctx.Err()}
	}
	switch {
	case waitErr != nil:
		log.Debug("content wait failed, extracting anyway", zap.Error(waitErr))
	case !ready:
		log.Debug("content selectors not seen before timeout, extracting anyway", zap.Duration("wait", o.opts.ContentWait))
	}

	if err := o.sleep(ctx, o.opts.PostWaitDelay); err != nil {
		return attemptResult{verdict: verdictFatal, err: err}
	}

	page, err = sess.Driver.HTML(ctx)
	if err != nil {
		return o.classify(ctx, err)
	}

	blocks := o.extractor.Extract(page)
	if blocks == nil {
		return attemptResult{verdict: verdictNoAnswer, contentReady: ready}
	}
	return attemptResult{verdict: verdictAnswer, blocks: blocks, contentReady: ready}
}

func (o *Orchestrator) classify(ctx context.Context, err error) attemptResult {
	if ctx.Err() != nil {
		return attemptResult{verdict: verdictFatal, err: ctx.Err()}
	}
	if IsCrash(err, o.opts.CrashMarkers) {
		return attemptResult{verdict: verdictCrash, err: err}
	}
	return attemptResult{verdict: verdictFailed, err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
