// Package bridge runs a native notification helper (the Windows UWP
// listener) and reads one JSON notification per line from its stdout.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"empathai/internal/source"
	logx "empathai/pkg/logx"
)

const Name = "bridge"

// Line is one helper record.
type Line struct {
	App   string `json:"app"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

const errAccessDenied = "access_denied"

type Config struct {
	Command string
	Args    []string
}

type Bridge struct {
	cfg    Config
	status *source.Status
	log    logx.Logger
	now    func() time.Time
}

// New returns a bridge source. status receives asynchronous access denials
// reported by the helper after Subscribe returned.
func New(cfg Config, status *source.Status, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{cfg: cfg, status: status, log: log.With(logx.String("source", Name)), now: time.Now}
}

func (b *Bridge) Name() string { return Name }

func (b *Bridge) Subscribe(ctx context.Context, h source.Handler) (func(), error) {
	if strings.TrimSpace(b.cfg.Command) == "" {
		return nil, errors.New("bridge command is empty")
	}
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, b.cfg.Command, b.cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start bridge helper: %w", err)
	}
	b.log.Info("bridge helper started", logx.String("cmd", b.cfg.Command), logx.Int("pid", cmd.Process.Pid))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := b.Scan(runCtx, stdout, h)
		werr := cmd.Wait()
		if runCtx.Err() != nil {
			return
		}
		if err == nil {
			err = werr
		}
		if err == nil {
			err = errors.New("bridge helper exited")
		}
		b.status.Inactive(Name, err)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// MaxLineBytes bounds one helper record. Longer records are discarded.
const MaxLineBytes = 1 << 20

// Scan reads helper records until EOF. Malformed and oversize lines are
// skipped; an access_denied record stops the scan with source.ErrAccessDenied.
func (b *Bridge) Scan(ctx context.Context, r io.Reader, h source.Handler) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := readLine(br, MaxLineBytes)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errLineTooLong) {
			b.log.Warn("skip oversize bridge line", logx.Int("limit", MaxLineBytes))
			continue
		}
		if raw := strings.TrimSpace(string(line)); raw != "" {
			var ln Line
			if jerr := json.Unmarshal([]byte(raw), &ln); jerr != nil {
				b.log.Debug("skip malformed bridge line", logx.Err(jerr))
			} else if ln.Error == errAccessDenied {
				return source.ErrAccessDenied
			} else if ln.Error != "" {
				b.log.Warn("bridge helper error", logx.String("error", ln.Error))
			} else {
				b.deliver(ctx, ln, h)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

var errLineTooLong = errors.New("bridge line too long")

// readLine returns the next newline-terminated record without the newline.
// A record over limit is drained up to its newline and reported as
// errLineTooLong. A final unterminated record is returned with io.EOF.
func readLine(br *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			if err != nil {
				return nil, err
			}
			return nil, errLineTooLong
		}
		return bytes.TrimSuffix(buf, []byte("\n")), err
	}
}

func (b *Bridge) deliver(ctx context.Context, ln Line, h source.Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bridge handler panicked", logx.Any("panic", r))
		}
	}()
	h(ctx, source.Event{
		SourceApp:  ln.App,
		Title:      ln.Title,
		Body:       ln.Body,
		ReceivedAt: b.now(),
		Origin:     Name,
	})
}
