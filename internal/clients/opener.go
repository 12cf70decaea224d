package clients

import (
	"context"
	"os/exec"
	"strings"
)

// Opener launches a new app window at a URL.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// CommandOpener runs an xdg-open style launcher. BaseURL prefixes relative
// links.
type CommandOpener struct {
	Command string
	BaseURL string
}

func (o CommandOpener) Open(ctx context.Context, url string) error {
	cmd := o.Command
	if cmd == "" {
		cmd = "xdg-open"
	}
	if strings.HasPrefix(url, "/") && o.BaseURL != "" {
		url = strings.TrimRight(o.BaseURL, "/") + url
	}
	c := exec.CommandContext(ctx, cmd, url)
	if err := c.Start(); err != nil {
		return err
	}
	// The launcher may keep running with the browser; reap it in the
	// background.
	go func() { _ = c.Wait() }()
	return nil
}
