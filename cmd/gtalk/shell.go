package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"

	"gtalk/internal/browser"
)

type command int

const (
	cmdEmpty command = iota
	cmdQuery
	cmdQuit
	cmdHelp
	cmdClear
	cmdReset
	cmdMemory
)

// parseCommand classifies one input line. Built-ins match case-insensitively.
func parseCommand(line string) (command, string) {
	text := strings.TrimSpace(line)
	if text == "" {
		return cmdEmpty, ""
	}
	switch strings.ToLower(text) {
	case "quit", "exit", "q":
		return cmdQuit, text
	case "help":
		return cmdHelp, text
	case "clear":
		return cmdClear, text
	case "reset":
		return cmdReset, text
	case "memory":
		return cmdMemory, text
	}
	return cmdQuery, text
}

// runShell reads commands from in until quit, end of input, or interrupt. The
// browser is started before the first prompt.
func (a *app) runShell(ctx context.Context, in io.Reader) error {
	a.term.Clear()
	a.term.Banner(runtime.GOOS, runtime.Version())

	if _, err := a.sessions.EnsureSession(ctx); err != nil {
		var initErr *browser.SessionInitError
		if errors.As(err, &initErr) {
			a.term.InitFailed(err)
			return err
		}
		a.term.Interrupted()
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	for {
		a.term.Prompt()

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			a.term.Interrupted()
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			a.term.Exiting()
			return nil
		}

		cmd, text := parseCommand(line)
		switch cmd {
		case cmdEmpty:
			continue
		case cmdQuit:
			a.term.Goodbye()
			return nil
		case cmdHelp:
			a.term.Help()
		case cmdClear:
			a.term.Clear()
		case cmdReset:
			a.orch.Memory().Reset()
			a.term.MemoryReset()
		case cmdMemory:
			a.term.Memory(a.orch.Memory().Summary())
		case cmdQuery:
			if err := a.runQuery(ctx, text); err != nil {
				if ctx.Err() != nil {
					a.term.Interrupted()
					return nil
				}
				return err
			}
		}
	}
}

// readLines feeds scanned lines to the returned channel, closing it at end of input.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
