package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
)

// DefaultTimeout is the wall clock limit applied when an invocation does not
// carry its own.
const DefaultTimeout = time.Hour

// Executor spawns one ffmpeg process per invocation and scrapes its output
// for progress. It never retries; the runner decides what a failure means.
type Executor struct {
	defaultTimeout time.Duration
}

func NewExecutor(defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Executor{defaultTimeout: defaultTimeout}
}

func (e *Executor) Start(ctx context.Context, inv port.Invocation, opts port.ExecOptions) (port.Process, error) {
	if len(inv.Argv) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	cmd := exec.Command(inv.Argv[0], inv.Argv[1:]...)
	// Own process group so Kill reaches ffmpeg's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, fmt.Errorf("start %s: %w", inv.Argv[0], err)
	}

	p := &process{
		cmd:      cmd,
		inv:      inv,
		timeout:  timeout,
		started:  time.Now(),
		scanDone: make(chan struct{}),
	}

	go p.scanOutput(pr, opts)

	// The process is wound down by whichever fires first: natural exit
	// (Wait closes the pipe), the timeout, or a context/kill.
	p.timer = time.AfterFunc(timeout, func() {
		p.timedOut.Store(true)
		p.Kill()
	})
	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.scanDone:
		}
	}()

	p.waitOnce = sync.OnceValue(func() port.ExecResult {
		return p.wait(pw)
	})

	return p, nil
}

type process struct {
	cmd      *exec.Cmd
	inv      port.Invocation
	timeout  time.Duration
	started  time.Time
	timer    *time.Timer
	timedOut atomic.Bool
	killed   atomic.Bool
	killOnce sync.Once
	waitOnce func() port.ExecResult
	scanDone chan struct{}

	mu       sync.Mutex
	lastLine string // last non-empty output line
	diagLine string // last line matching a known error pattern
}

func (p *process) Wait() port.ExecResult {
	return p.waitOnce()
}

func (p *process) wait(pw *io.PipeWriter) port.ExecResult {
	err := p.cmd.Wait()
	p.timer.Stop()
	_ = pw.Close()
	<-p.scanDone

	res := port.ExecResult{Duration: time.Since(p.started)}

	switch {
	case p.timedOut.Load():
		res.Err = fmt.Errorf("%w after %s", domain.ErrTimeout, p.timeout)
	case err != nil:
		res.Err = fmt.Errorf("encoder exited: %v: %s", err, p.diagnostic())
	case p.killed.Load():
		res.Err = fmt.Errorf("encoder killed")
	default:
		res.Success = true
	}
	return res
}

// Kill forcibly terminates the process group. Idempotent and safe after
// natural exit.
func (p *process) Kill() {
	p.killOnce.Do(func() {
		p.killed.Store(true)
		if p.cmd.Process == nil {
			return
		}
		pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
		if err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return
		}
		_ = p.cmd.Process.Kill()
	})
}

// scanOutput reads the combined output line by line, offering each line to
// OnLog and to the progress parser. ffmpeg rewrites its stats line with \r,
// so both \r and \n terminate records.
func (p *process) scanOutput(r io.Reader, opts port.ExecOptions) {
	defer close(p.scanDone)

	parser := newProgressParser(p.inv)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanCRLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if opts.OnLog != nil {
			opts.OnLog(line)
		}
		p.recordDiagnostic(line)
		if pct, ok := parser.Parse(line); ok && opts.OnProgress != nil {
			opts.OnProgress(pct)
		}
	}
}

func (p *process) recordDiagnostic(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLine = line
	if looksLikeError(line) {
		p.diagLine = line
	}
}

// diagnostic returns the best-effort failure message extracted from the
// captured output.
func (p *process) diagnostic() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.diagLine != "" {
		return p.diagLine
	}
	if p.lastLine != "" {
		return p.lastLine
	}
	return "no diagnostic output"
}

var errorMarkers = []string{
	"Error", "error", "Invalid", "No such file", "Conversion failed",
	"Unknown", "not found", "Permission denied",
}

func looksLikeError(line string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// scanCRLines is a bufio.SplitFunc that terminates records on \n or \r.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ port.Executor = (*Executor)(nil)
