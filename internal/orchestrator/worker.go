package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Iron-Ham/storyloop/internal/plan"
)

// DefaultWorkerName is used for items that name no worker.
const DefaultWorkerName = "default"

const commandWaitDelay = 2 * time.Second

// Only the tail of a command's output streams is kept.
const (
	maxStdoutBytes = 64 << 10
	maxStderrBytes = 16 << 10
)

// Result is what a worker reports for one item.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Worker executes a single work item. Implementations must be safe for
// concurrent use: every item of a batch is dispatched at once.
type Worker interface {
	Execute(ctx context.Context, item plan.WorkItem) (Result, error)
}

// WorkerRegistry resolves the worker named by an item.
type WorkerRegistry interface {
	Worker(name string) (Worker, bool)
}

// FuncWorker adapts a function to the Worker interface.
type FuncWorker func(ctx context.Context, item plan.WorkItem) (Result, error)

// Execute calls f.
func (f FuncWorker) Execute(ctx context.Context, item plan.WorkItem) (Result, error) {
	return f(ctx, item)
}

// StaticRegistry is a fixed name -> Worker map. Lookups for an empty name
// resolve to DefaultWorkerName.
type StaticRegistry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{workers: make(map[string]Worker)}
}

// Register adds or replaces the worker for name.
func (r *StaticRegistry) Register(name string, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[name] = w
}

// Worker implements WorkerRegistry.
func (r *StaticRegistry) Worker(name string) (Worker, bool) {
	if name == "" {
		name = DefaultWorkerName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Names returns the registered worker names.
func (r *StaticRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}

// CommandWorker runs an external command per item. The item is written to
// the command's stdin as JSON; a zero exit status is success and stdout
// becomes the result output.
type CommandWorker struct {
	Command []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// Execute runs the command. Failures of the command itself are reported in
// the Result; an error is returned only when the command cannot be started.
func (w *CommandWorker) Execute(ctx context.Context, item plan.WorkItem) (Result, error) {
	if len(w.Command) == 0 {
		return Result{}, errors.New("command worker has no command")
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return Result{}, fmt.Errorf("marshal item: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.Command[0], w.Command[1:]...)
	cmd.Dir = w.Dir
	cmd.Env = append(os.Environ(), w.Env...)
	cmd.Env = append(cmd.Env,
		"STORYLOOP_ITEM_ID="+item.ID,
		"STORYLOOP_ITEM_TITLE="+item.Title,
	)
	cmd.Stdin = bytes.NewReader(payload)
	// Children that inherit stdout must not hold a cancelled run open.
	cmd.WaitDelay = commandWaitDelay

	stdout := newTailBuffer(maxStdoutBytes)
	stderr := newTailBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	res := Result{Output: stdout.String()}
	if runErr == nil {
		res.Success = true
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return Result{}, fmt.Errorf("run %s: %w", w.Command[0], runErr)
	}

	res.Error = strings.TrimSpace(stderr.String())
	if res.Error == "" {
		res.Error = runErr.Error()
	}
	if ctx.Err() != nil {
		res.Error = fmt.Sprintf("%s (%v)", res.Error, ctx.Err())
	}
	return res, nil
}

// tailBuffer is an io.Writer that keeps the last limit bytes written.
type tailBuffer struct {
	limit   int
	buf     []byte
	dropped int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.dropped += over
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

// String returns the kept bytes, prefixed with a marker when earlier output
// was discarded. A rune split by the cut is dropped.
func (b *tailBuffer) String() string {
	if b.dropped == 0 {
		return string(b.buf)
	}
	kept := b.buf
	for len(kept) > 0 && !utf8.RuneStart(kept[0]) {
		kept = kept[1:]
	}
	return fmt.Sprintf("[%d bytes truncated] %s", b.dropped+len(b.buf)-len(kept), kept)
}
