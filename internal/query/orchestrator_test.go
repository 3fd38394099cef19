package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gtalk/internal/browser"
	"gtalk/internal/config"
	"gtalk/internal/extract"
	"gtalk/internal/memory"
	"gtalk/internal/transcript"
)

const (
	answerPage    = `<html><body><div class="mZJni Dn7Fzd"><div class="Y3BBE">Rust is a systems language.</div></div></body></html>`
	codeOnlyPage  = `<html><body><div class="mZJni Dn7Fzd"><div class="r1PmQe"><div class="vVRw1d">go</div><pre><code>fmt.Println(1)</code></pre></div></div></body></html>`
	challengePage = `<html><body>Our systems have detected unusual traffic from your computer network.</body></html>`
	emptyPage     = `<html><body><div id="search">nothing here</div></body></html>`
)

// stubDriver serves one page and optionally fails navigation.
type stubDriver struct {
	log    *navLog
	page   string
	navErr error
	ready  bool
}

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	d.log.add(url)
	return d.navErr
}

func (d *stubDriver) HTML(ctx context.Context) (string, error) { return d.page, nil }

func (d *stubDriver) WaitForSelector(ctx context.Context, selectors []string, timeout time.Duration) (bool, error) {
	return d.ready, nil
}

func (d *stubDriver) Close() error { return nil }

type navLog struct {
	mu   sync.Mutex
	urls []string
}

func (l *navLog) add(u string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, u)
}

func (l *navLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.urls)
}

// recordingReporter captures display calls.
type recordingReporter struct {
	calls   []string
	retries [][2]int
	blocks  []extract.Block
	failed  error
}

func (r *recordingReporter) Searching() { r.calls = append(r.calls, "searching") }
func (r *recordingReporter) ChallengeRetry(wait time.Duration, next, total int) {
	r.calls = append(r.calls, "retry")
	r.retries = append(r.retries, [2]int{next, total})
}
func (r *recordingReporter) ChallengeExhausted() { r.calls = append(r.calls, "exhausted") }
func (r *recordingReporter) Crashed(err error) { r.calls = append(r.calls, "crashed") }
func (r *recordingReporter) NoAnswer() { r.calls = append(r.calls, "no_answer") }
func (r *recordingReporter) Failed(err error) {
	r.calls = append(r.calls, "failed")
	r.failed = err
}
func (r *recordingReporter) Answer(blocks []extract.Block) {
	r.calls = append(r.calls, "answer")
	r.blocks = blocks
}

type recordingSink struct {
	kinds []string
}

func (s *recordingSink) Record(kind, queryID string, data any) { s.kinds = append(s.kinds, kind) }

type harness struct {
	orch     *Orchestrator
	sessions *browser.SessionManager
	navs     *navLog
	drivers  []*stubDriver
	launches int
	reporter *recordingReporter
	sink     *recordingSink
	sleeps   []time.Duration
}

// newHarness builds an orchestrator over a real session manager whose launcher
// hands out drivers from next, one per launch.
func newHarness(t *testing.T, maxRetries int, next func(n int, log *navLog) *stubDriver) *harness {
	t.Helper()
	h := &harness{navs: &navLog{}, reporter: &recordingReporter{}, sink: &recordingSink{}}

	launcher := browser.LauncherFunc(func(ctx context.Context) (browser.Driver, error) {
		h.launches++
		d := next(h.launches, h.navs)
		h.drivers = append(h.drivers, d)
		return d, nil
	})
	h.sessions = browser.NewSessionManager(config.BrowserConfig{}, launcher, nil)

	opts := Options{
		SearchHost:   "www.google.com",
		MaxRetries:   maxRetries,
		RetryDelay:   time.Second,
		CrashMarkers: config.DefaultCrashMarkers,
	}
	h.orch = New(opts, h.sessions, nil, memory.NewConversation(memory.DefaultWordLimit), nil)
	h.orch.SetReporter(h.reporter)
	h.orch.SetEventSink(h.sink)
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		if d > 0 {
			h.sleeps = append(h.sleeps, d)
		}
		return ctx.Err()
	}
	return h
}

func servePage(page string) func(int, *navLog) *stubDriver {
	return func(_ int, log *navLog) *stubDriver {
		return &stubDriver{log: log, page: page, ready: true}
	}
}

func TestQueryChallengeRetryBound(t *testing.T) {
	h := newHarness(t, 2, servePage(challengePage))

	res, err := h.orch.Query(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeChallengeExhausted {
		t.Errorf("expected challenge_exhausted, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, ErrChallengeExhausted) {
		t.Errorf("expected ErrChallengeExhausted, got %v", res.Err)
	}
	if got := h.navs.count(); got != 3 {
		t.Errorf("expected 3 navigations, got %d", got)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if h.launches != 1 {
		t.Errorf("challenges must reuse the session, got %d launches", h.launches)
	}

	wantSleeps := []time.Duration{time.Second, 2 * time.Second}
	if len(h.sleeps) != len(wantSleeps) {
		t.Fatalf("expected backoffs %v, got %v", wantSleeps, h.sleeps)
	}
	for i := range wantSleeps {
		if h.sleeps[i] != wantSleeps[i] {
			t.Errorf("backoff %d: expected %v, got %v", i, wantSleeps[i], h.sleeps[i])
		}
	}

	wantRetries := [][2]int{{2, 3}, {3, 3}}
	for i, r := range wantRetries {
		if i >= len(h.reporter.retries) || h.reporter.retries[i] != r {
			t.Errorf("expected retry notices %v, got %v", wantRetries, h.reporter.retries)
			break
		}
	}
	if last := h.reporter.calls[len(h.reporter.calls)-1]; last != "exhausted" {
		t.Errorf("expected final exhausted notice, got %q", last)
	}
	if h.orch.Memory().Summary() != "" {
		t.Error("memory must not change on exhaustion")
	}
}

func TestQueryZeroRetries(t *testing.T) {
	h := newHarness(t, 0, servePage(challengePage))

	res, err := h.orch.Query(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeChallengeExhausted || h.navs.count() != 1 {
		t.Errorf("expected one attempt then exhaustion, got %v after %d navigations", res.Outcome, h.navs.count())
	}
	if len(h.sleeps) != 0 {
		t.Errorf("expected no backoff, got %v", h.sleeps)
	}
}

func TestQueryCrashRecovery(t *testing.T) {
	crash := errors.New("unknown error: chrome not reachable")
	h := newHarness(t, 2, func(n int, log *navLog) *stubDriver {
		if n < 3 {
			return &stubDriver{log: log, navErr: crash}
		}
		return &stubDriver{log: log, page: answerPage, ready: true}
	})

	res, err := h.orch.Query(context.Background(), "what is rust")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", res.Outcome, res.Err)
	}
	if h.launches != 3 {
		t.Errorf("expected a fresh session per crash, got %d launches", h.launches)
	}
	if res.Attempts != 3 || h.navs.count() != 3 {
		t.Errorf("expected 3 attempts and navigations, got %d and %d", res.Attempts, h.navs.count())
	}
	if len(res.Blocks) != 1 || res.Blocks[0].Text != "Rust is a systems language." {
		t.Errorf("unexpected blocks: %+v", res.Blocks)
	}
	if !h.sessions.IsConnected() {
		t.Error("expected the recovered session to stay live")
	}

	crashes := 0
	for _, c := range h.reporter.calls {
		if c == "crashed" {
			crashes++
		}
	}
	if crashes != 2 {
		t.Errorf("expected 2 crash notices, got %d", crashes)
	}
}

func TestQueryRecoversFromWebsocketEOF(t *testing.T) {
	h := newHarness(t, 2, func(n int, log *navLog) *stubDriver {
		if n == 1 {
			return &stubDriver{log: log, navErr: fmt.Errorf("navigate https://x: %w", io.EOF)}
		}
		return &stubDriver{log: log, page: answerPage, ready: true}
	})

	res, err := h.orch.Query(context.Background(), "what is rust")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success after relaunch, got %v (%v)", res.Outcome, res.Err)
	}
	if res.Attempts != 2 || h.launches != 2 {
		t.Errorf("expected 2 attempts on 2 sessions, got %d attempts and %d launches", res.Attempts, h.launches)
	}
}

func TestQueryCrashExhausted(t *testing.T) {
	crash := errors.New("chrome not reachable")
	h := newHarness(t, 2, func(_ int, log *navLog) *stubDriver {
		return &stubDriver{log: log, navErr: crash}
	})

	res, err := h.orch.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeDriverUnreachable {
		t.Errorf("expected driver_unreachable, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, ErrDriverUnreachable) || !errors.Is(res.Err, crash) {
		t.Errorf("expected error to wrap both sentinel and cause, got %v", res.Err)
	}
	if h.launches != 3 {
		t.Errorf("expected 3 launches, got %d", h.launches)
	}
	if h.sessions.IsConnected() {
		t.Error("expected the dead session to be dropped")
	}
}

func TestQueryNoAnswerNotRetried(t *testing.T) {
	h := newHarness(t, 2, servePage(emptyPage))
	h.orch.Memory().Update([]extract.Block{extract.TextBlock("earlier answer")})

	res, err := h.orch.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeNoAnswer || !errors.Is(res.Err, ErrNoAnswer) {
		t.Errorf("expected no_answer, got %v (%v)", res.Outcome, res.Err)
	}
	if h.navs.count() != 1 {
		t.Errorf("expected a single navigation, got %d", h.navs.count())
	}
	if got := h.orch.Memory().Summary(); got != "earlier answer" {
		t.Errorf("memory must be untouched, got %q", got)
	}
}

func TestQueryUnexpectedErrorNotRetried(t *testing.T) {
	h := newHarness(t, 2, func(_ int, log *navLog) *stubDriver {
		return &stubDriver{log: log, navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	})

	res, err := h.orch.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("expected failed, got %v", res.Outcome)
	}
	if h.navs.count() != 1 || h.launches != 1 {
		t.Errorf("expected one navigation on one session, got %d / %d", h.navs.count(), h.launches)
	}
	if h.reporter.failed == nil || !strings.Contains(h.reporter.failed.Error(), "ERR_NAME_NOT_RESOLVED") {
		t.Errorf("expected failure surfaced to reporter, got %v", h.reporter.failed)
	}
	if !h.sessions.IsConnected() {
		t.Error("a non-crash failure must keep the session")
	}
}

func TestQueryMemoryCarryover(t *testing.T) {
	pages := []string{answerPage, codeOnlyPage}
	var current int
	drv := &stubDriver{ready: true}
	h := newHarness(t, 2, func(_ int, log *navLog) *stubDriver {
		drv.log = log
		return drv
	})

	drv.page = pages[current]
	res, err := h.orch.Query(context.Background(), "what is rust")
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("first query: %v %v", res.Outcome, err)
	}
	if got := h.orch.Memory().Summary(); got != "Rust is a systems language." {
		t.Fatalf("expected memory from first text block, got %q", got)
	}

	current++
	drv.page = pages[current]
	res, err = h.orch.Query(context.Background(), "show code")
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("second query: %v %v", res.Outcome, err)
	}
	if len(res.Blocks) != 1 || !res.Blocks[0].IsCode() {
		t.Fatalf("expected a single code block, got %+v", res.Blocks)
	}
	if got := h.orch.Memory().Summary(); got != "Rust is a systems language." {
		t.Errorf("code-only answer must keep prior memory, got %q", got)
	}

	second := h.navs.urls[1]
	if !strings.Contains(second, "Previous+summary%3A+Rust+is+a+systems+language.") {
		t.Errorf("expected second URL to carry memory, got %s", second)
	}
}

func TestQueryWithFreshMemory(t *testing.T) {
	h := newHarness(t, 2, servePage(codeOnlyPage))
	h.orch.Memory().Update([]extract.Block{extract.TextBlock("stale topic")})

	res, err := h.orch.Query(context.Background(), "new topic", WithFreshMemory())
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("Query: %v %v", res.Outcome, err)
	}
	if strings.Contains(h.navs.urls[0], "stale") {
		t.Errorf("fresh query must not carry old memory: %s", h.navs.urls[0])
	}
	if got := h.orch.Memory().Summary(); got != "" {
		t.Errorf("expected memory to stay cleared after a code-only answer, got %q", got)
	}
}

func TestQueryContentWaitTimeoutIsNotFatal(t *testing.T) {
	h := newHarness(t, 2, func(_ int, log *navLog) *stubDriver {
		return &stubDriver{log: log, page: answerPage, ready: false}
	})

	res, err := h.orch.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Errorf("expected success despite wait timeout, got %v", res.Outcome)
	}
}

func TestQueryCancelDuringBackoff(t *testing.T) {
	h := newHarness(t, 2, servePage(challengePage))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		if d >= time.Second {
			cancel()
		}
		return ctx.Err()
	}

	_, err := h.orch.Query(ctx, "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.navs.count() != 1 {
		t.Errorf("expected no further attempts after cancel, got %d navigations", h.navs.count())
	}
}

func TestQuerySessionInitErrorPropagates(t *testing.T) {
	sessions := browser.NewSessionManager(config.BrowserConfig{}, browser.LauncherFunc(func(ctx context.Context) (browser.Driver, error) {
		return nil, errors.New("exec: \"chrome\": executable file not found in $PATH")
	}), nil)
	orch := New(Options{SearchHost: "www.google.com", MaxRetries: 2}, sessions, nil, nil, nil)

	_, err := orch.Query(context.Background(), "q")
	var initErr *browser.SessionInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected *browser.SessionInitError, got %v", err)
	}
}

func TestQueryTranscriptEvents(t *testing.T) {
	h := newHarness(t, 1, servePage(challengePage))

	if _, err := h.orch.Query(context.Background(), "q"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{
		transcript.EventAttempt, transcript.EventChallenge,
		transcript.EventAttempt, transcript.EventChallenge,
	}
	if strings.Join(h.sink.kinds, ",") != strings.Join(want, ",") {
		t.Errorf("expected events %v, got %v", want, h.sink.kinds)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Query
	cfg.RetryDelay = "0s"
	opts := OptionsFromConfig(cfg)

	if opts.SearchHost != "www.google.com" || opts.MaxRetries != 2 {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.RetryDelay != 0 {
		t.Errorf("expected explicit zero retry delay, got %v", opts.RetryDelay)
	}
	if opts.ContentWait != 10*time.Second {
		t.Errorf("expected 10s content wait, got %v", opts.ContentWait)
	}
	if len(opts.CrashMarkers) == 0 {
		t.Error("expected default crash markers")
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomeSuccess:            "success",
		OutcomeNoAnswer:           "no_answer",
		OutcomeChallengeExhausted: "challenge_exhausted",
		OutcomeDriverUnreachable:  "driver_unreachable",
		OutcomeFailed:             "failed",
	} {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(o), got, want)
		}
	}
}
