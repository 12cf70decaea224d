package presenter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"empathai/internal/support"
	logx "empathai/pkg/logx"
)

// ErrNoStrategy is returned by a chain without strategies.
var ErrNoStrategy = errors.New("presenter: no strategy configured")

// Presenter shows a support reply to the user.
type Presenter interface {
	Present(ctx context.Context, r support.Reply) error
}

// Strategy is one way of displaying content.
type Strategy interface {
	Name() string
	Show(ctx context.Context, c Content) error
}

// Outcome describes a successful presentation.
type Outcome struct {
	Strategy string
	Content  Content
}

// Chain tries its strategies in order and stops at the first success.
type Chain struct {
	baseURL    string
	strategies []Strategy
	log        logx.Logger
}

func NewChain(baseURL string, log logx.Logger, strategies ...Strategy) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{baseURL: baseURL, strategies: strategies, log: log}
}

func (c *Chain) Present(ctx context.Context, r support.Reply) error {
	_, err := c.Show(ctx, r)
	return err
}

// Show presents r and reports which strategy succeeded. When every
// strategy fails the errors are joined.
func (c *Chain) Show(ctx context.Context, r support.Reply) (Outcome, error) {
	if len(c.strategies) == 0 {
		return Outcome{}, ErrNoStrategy
	}
	content := Build(r, c.baseURL)
	var errs []error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := safeShow(ctx, s, content)
		if err == nil {
			c.log.Debug("notification presented",
				logx.String("strategy", s.Name()),
				logx.String("id", content.ID),
				logx.String("severity", content.Severity.String()))
			return Outcome{Strategy: s.Name(), Content: content}, nil
		}
		c.log.Warn("presentation strategy failed", logx.String("strategy", s.Name()), logx.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Outcome{Content: content}, errors.Join(errs...)
}

func safeShow(ctx context.Context, s Strategy, c Content) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.Show(ctx, c)
}
