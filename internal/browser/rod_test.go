package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProcess struct {
	pid     int
	killed  int
	cleaned int
}

func (p *fakeProcess) PID() int { return p.pid }
func (p *fakeProcess) Kill() { p.killed++ }
func (p *fakeProcess) Cleanup() { p.cleaned++ }

func TestCloseChrome(t *testing.T) {
	closeErr := errors.New("websocket: close 1006")

	tests := []struct {
		name        string
		err         error
		pid         int
		wantKilled  int
		wantCleaned int
	}{
		{"clean exit", nil, 42, 0, 1},
		{"close fails", closeErr, 42, 1, 1},
		{"no owned process", closeErr, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcess{pid: tt.pid}
			err := closeChrome(func() error { return tt.err }, proc)
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if proc.killed != tt.wantKilled || proc.cleaned != tt.wantCleaned {
				t.Errorf("killed=%d cleaned=%d, want %d/%d", proc.killed, proc.cleaned, tt.wantKilled, tt.wantCleaned)
			}
		})
	}

	t.Run("nil process", func(t *testing.T) {
		if err := closeChrome(func() error { return closeErr }, nil); !errors.Is(err, closeErr) {
			t.Errorf("expected close error, got %v", err)
		}
	})
}

func TestConnectContextReturnsConnectResult(t *testing.T) {
	want := errors.New("dial refused")
	aborted := false
	err := connectContext(context.Background(), func() error { return want }, func() { aborted = true })
	if !errors.Is(err, want) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if aborted {
		t.Error("abort must not run when connect returns on its own")
	}
}

func TestConnectContextAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	connect := func() error {
		<-release
		return errors.New("connection closed")
	}

	errc := make(chan error, 1)
	go func() { errc <- connectContext(ctx, connect, func() { close(release) }) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connectContext did not return after cancel")
	}

	select {
	case <-release:
	default:
		t.Error("abort was not called")
	}
}
