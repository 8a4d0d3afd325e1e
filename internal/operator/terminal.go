// Package operator implements triggercapture.Operator on a line-oriented
// terminal: one return key per software trigger, and one after the
// hardware pre-triggers have been applied.
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	triggercapture "github.com/e7canasta/trigger-capture"
)

const (
	cuePrompt     = "start trigger with return"
	confirmPrompt = "--> Pre-trigger via hardware %d times, then press return"
)

// Terminal reads operator input line by line from in and writes prompts to
// out. A single reader goroutine is started on first use so that a pending
// read never blocks cancellation.
type Terminal struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string
	err   error // set before lines is closed
}

var _ triggercapture.Operator = (*Terminal)(nil)

// NewTerminal returns a Terminal on in and out, typically os.Stdin and
// os.Stdout.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, lines: make(chan string)}
}

func (t *Terminal) start() {
	t.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(t.in)
			for scanner.Scan() {
				t.lines <- scanner.Text()
			}
			t.err = scanner.Err()
			close(t.lines)
		}()
	})
}

// AwaitCue prompts for and waits on the next return key.
func (t *Terminal) AwaitCue(ctx context.Context) error {
	fmt.Fprintln(t.out, cuePrompt)
	return t.wait(ctx)
}

// ConfirmExternal tells the operator how many hardware triggers to apply and
// waits for the return key.
func (t *Terminal) ConfirmExternal(ctx context.Context, buffers int) error {
	fmt.Fprintf(t.out, confirmPrompt+"\n", buffers)
	return t.wait(ctx)
}

func (t *Terminal) wait(ctx context.Context) error {
	t.start()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-t.lines:
		if !ok {
			if t.err != nil {
				return fmt.Errorf("operator input: %w", t.err)
			}
			return io.EOF
		}
		return nil
	}
}
