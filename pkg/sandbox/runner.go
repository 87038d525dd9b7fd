package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrTimeout        = errors.New("execution timed out")
	ErrOutputTooLarge = errors.New("output exceeded limit")
)

// Runner abstracts command execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr string, err error)
}

// ExecRunner implements Runner using exec.CommandContext. A zero Timeout or
// MaxOutputBytes disables that limit.
type ExecRunner struct {
	Timeout        time.Duration
	MaxOutputBytes int64
}

// Run executes a command with the given arguments and optional stdin. It
// returns ErrTimeout when the timeout fires and ErrOutputTooLarge when stdout
// or stderr grows past MaxOutputBytes; in both cases the process is killed.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) (string, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, r.Timeout)
		defer cancelTimeout()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second

	stdoutBuf := &cappedBuffer{limit: r.MaxOutputBytes, onOverflow: cancel}
	stderrBuf := &cappedBuffer{limit: r.MaxOutputBytes, onOverflow: cancel}
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf
	if stdin != nil {
		cmd.Stdin = stdin
	}

	err := cmd.Run()
	stdout, stderr := stdoutBuf.String(), stderrBuf.String()

	switch {
	case stdoutBuf.Overflowed() || stderrBuf.Overflowed():
		return stdout, stderr, fmt.Errorf("%w (%d bytes)", ErrOutputTooLarge, r.MaxOutputBytes)
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return stdout, stderr, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}
	return stdout, stderr, err
}

// cappedBuffer keeps at most limit bytes and calls onOverflow once when more
// are written. Writes never fail so the child is not killed by a broken pipe
// before onOverflow runs.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	onOverflow func()
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	if b.overflowed {
		return len(p), nil
	}
	remaining := b.limit - int64(b.buf.Len())
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.overflowed = true
		if b.onOverflow != nil {
			b.onOverflow()
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}
