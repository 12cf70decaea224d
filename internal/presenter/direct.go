package presenter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "empathai/pkg/logx"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command and folds its stderr into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Opener opens a chat URL after a click.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// clickAction is the action key notify-send prints when the body is clicked.
const clickAction = "default"

const (
	DefaultDirectTimeout = 5 * time.Second
	DefaultClickWait     = 10 * time.Minute
	DefaultSettle        = 500 * time.Millisecond
)

// Direct shows content immediately with notify-send. With an Opener set it
// also waits for a click in the background and opens the chat URL once.
type Direct struct {
	Command string
	Timeout time.Duration
	Run     Runner
	Opener  Opener
	// ClickWait bounds how long a shown notification is watched for a click.
	ClickWait time.Duration
	// Settle is how long Show waits for an early display failure before
	// handing the notification to the click watcher.
	Settle time.Duration
	Log    logx.Logger

	once sync.Once
	quit chan struct{}
	wg   sync.WaitGroup
}

func NewDirect(command string) *Direct {
	if command == "" {
		command = "notify-send"
	}
	return &Direct{
		Command:   command,
		Timeout:   DefaultDirectTimeout,
		Run:       ExecRunner,
		ClickWait: DefaultClickWait,
		Settle:    DefaultSettle,
		quit:      make(chan struct{}),
	}
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Show(ctx context.Context, c Content) error {
	if d.Opener == nil || c.URL == "" {
		if d.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}
		_, err := d.Run(ctx, d.Command, d.Args(c)...)
		return err
	}
	return d.showAndWatch(ctx, c)
}

// showAndWatch runs notify-send with a default action and --wait. A failure
// within the settle window is returned; afterwards the process is owned by
// a background watcher that routes the click.
func (d *Direct) showAndWatch(ctx context.Context, c Content) error {
	wait := d.ClickWait
	if wait <= 0 {
		wait = DefaultClickWait
	}
	watchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
	if d.quit != nil {
		go func() {
			select {
			case <-d.quit:
				cancel()
			case <-watchCtx.Done():
			}
		}()
	}

	args := append([]string{"--action=" + clickAction + "=Open", "--wait"}, d.Args(c)...)
	errc := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		out, err := d.Run(watchCtx, d.Command, args...)
		errc <- err
		if err != nil {
			return
		}
		if strings.TrimSpace(string(out)) != clickAction {
			return
		}
		if oerr := d.Opener.Open(watchCtx, c.URL); oerr != nil {
			d.log().Warn("open after click failed", logx.String("id", c.ID), logx.Err(oerr))
			return
		}
		d.log().Debug("direct notification clicked", logx.String("id", c.ID))
	}()

	settle := d.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	t := time.NewTimer(settle)
	defer t.Stop()
	select {
	case err := <-errc:
		return err
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding click watchers and waits for them, bounded by ctx.
func (d *Direct) Close(ctx context.Context) {
	d.once.Do(func() {
		if d.quit != nil {
			close(d.quit)
		}
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (d *Direct) log() logx.Logger {
	if d.Log.IsZero() {
		return logx.Nop()
	}
	return d.Log
}

// Args builds the notify-send argument list for c.
func (d *Direct) Args(c Content) []string {
	args := []string{
		"--app-name=" + AppName,
		"--urgency=" + c.Urgency().String(),
		"--expire-time=" + strconv.Itoa(int(c.ExpireTimeout())),
	}
	if c.Tag != "" {
		args = append(args, "--hint=string:x-canonical-private-synchronous:"+c.Tag)
	}
	return append(args, "--", c.Title, c.Body)
}
