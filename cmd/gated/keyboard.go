package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

const ctrlC = 0x03

// keyboardActions are the operator commands reachable from the console.
type keyboardActions struct {
	press func(ctx context.Context, key rune) error
	start func(ctx context.Context) error
	reset func(ctx context.Context)
}

// runKeyboard puts a terminal stdin in raw mode for single-key input and
// reads until the operator quits. A non-terminal stdin is read as is.
func runKeyboard(ctx context.Context, in *os.File, actions keyboardActions, log *logger.Logger) error {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		var once sync.Once
		restore := func() { once.Do(func() { _ = term.Restore(fd, state) }) }
		defer restore()

		// A read blocked on stdin outlives ctx, so restore the terminal as
		// soon as the daemon stops rather than when the loop returns.
		stop := context.AfterFunc(ctx, restore)
		defer stop()
	}

	log.Info(ctx, "Keyboard input enabled", "keys", "h v s b = scan item, n = new session, r = reset, q = quit")
	return keyboardLoop(ctx, in, actions, log)
}

// keyboardLoop dispatches one command per rune read from r. It returns nil on
// q, Ctrl-C or end of input.
func keyboardLoop(ctx context.Context, r io.Reader, actions keyboardActions, log *logger.Logger) error {
	br := bufio.NewReader(r)
	for {
		if ctx.Err() != nil {
			return nil
		}
		key, _, err := br.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch key {
		case 'q', 'Q', ctrlC:
			log.Info(ctx, "Quit requested from keyboard")
			return nil
		case 'n', 'N':
			if err := actions.start(ctx); err != nil {
				log.Warn(ctx, "Session start from keyboard failed", "error", err)
			}
		case 'r', 'R':
			actions.reset(ctx)
		case '\r', '\n', ' ':
		default:
			if err := actions.press(ctx, key); err != nil {
				if errors.Is(err, gate.ErrUnknownItemKind) {
					log.Debug(ctx, "Unbound key", "key", string(key))
					continue
				}
				log.Warn(ctx, "Manual scan not applied", "key", string(key), "error", err)
			}
		}
	}
}
