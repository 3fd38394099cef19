package main

import (
	"context"
	"errors"
	"io"

	"gtalk/internal/browser"
	"gtalk/internal/config"
	"gtalk/internal/extract"
	"gtalk/internal/memory"
	"gtalk/internal/query"
	"gtalk/internal/render"
	"gtalk/internal/transcript"

	"go.uber.org/zap"
)

// app holds the components one process run needs, wired together.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	term     *render.Terminal
	sessions *browser.SessionManager
	orch     *query.Orchestrator
	recorder *transcript.Recorder
}

func newApp(cfg config.Config, launcher browser.Launcher, out io.Writer, color bool, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	term := render.New(out, color)
	sessions := browser.NewSessionManager(cfg.Browser, launcher, logger)
	sessions.OnStage(term.Stage)

	orch := query.New(
		query.OptionsFromConfig(cfg.Query),
		sessions,
		extract.New(extract.DefaultLayout()),
		memory.NewConversation(cfg.Query.MemoryWords),
		logger,
	)
	orch.SetReporter(term)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		term:     term,
		sessions: sessions,
		orch:     orch,
	}

	if cfg.Transcript.Enable {
		rec, err := transcript.New(cfg.Transcript.Dir, cfg.Transcript.GetMaxFiles())
		if err != nil {
			return nil, err
		}
		session, err := rec.Start()
		if err != nil {
			return nil, err
		}
		orch.SetEventSink(rec)
		a.recorder = rec
		logger.Info("transcript started", zap.String("session", session), zap.String("path", rec.Path()))
	}

	return a, nil
}

// runQuery asks one question. Only start-up failures and interrupts are returned.
func (a *app) runQuery(ctx context.Context, text string) error {
	res, err := a.orch.Query(ctx, text)
	if err != nil {
		var initErr *browser.SessionInitError
		if errors.As(err, &initErr) {
			a.term.InitFailed(err)
		}
		return err
	}
	a.logger.Debug("query finished",
		zap.String("query_id", res.ID),
		zap.Stringer("outcome", res.Outcome),
		zap.Int("attempts", res.Attempts),
	)
	return nil
}

func (a *app) Close() {
	a.sessions.Close()
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Debug("transcript close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
