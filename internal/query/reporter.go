package query

import (
	"time"

	"gtalk/internal/extract"
)

// Reporter is the display surface for one query's progress and result.
type Reporter interface {
	Searching()
	// ChallengeRetry announces a backoff before attempt next of total.
	ChallengeRetry(wait time.Duration, next, total int)
	ChallengeExhausted()
	Crashed(err error)
	NoAnswer()
	Failed(err error)
	Answer(blocks []extract.Block)
}

// EventSink receives transcript events. *transcript.Recorder satisfies it.
type EventSink interface {
	Record(kind, queryID string, data any)
}

// NopReporter discards everything. Servers use it and read the Result instead.
type NopReporter struct{}

func (NopReporter) Searching() {}
func (NopReporter) ChallengeRetry(time.Duration, int, int) {}
func (NopReporter) ChallengeExhausted() {}
func (NopReporter) Crashed(error) {}
func (NopReporter) NoAnswer() {}
func (NopReporter) Failed(error) {}
func (NopReporter) Answer([]extract.Block) {}

type nopSink struct{}

func (nopSink) Record(string, string, any) {}
