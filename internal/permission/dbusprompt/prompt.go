// Package dbusprompt asks for notification access with an actionable
// desktop notification.
package dbusprompt

import (
	"context"

	"empathai/internal/desktop"
	"empathai/internal/permission"
)

const (
	ActionAllow = "allow"
	ActionDeny  = "deny"

	promptTitle = "EmpathAI 💜"
	promptBody  = "Allow EmpathAI to watch your notifications and offer support when something distressing arrives?"
)

// Bus is the subset of desktop.Client the prompt needs.
type Bus interface {
	Notify(ctx context.Context, n desktop.Notification) (uint32, error)
	CloseNotification(ctx context.Context, id uint32) error
	Subscribe(buffer int) (<-chan desktop.Event, func())
}

// Prompter shows the prompt and maps the user's answer: allow grants, deny
// denies, anything else dismisses.
type Prompter struct {
	Bus Bus
}

func (p Prompter) Request(ctx context.Context) (permission.State, error) {
	events, unsub := p.Bus.Subscribe(8)
	defer unsub()

	id, err := p.Bus.Notify(ctx, desktop.Notification{
		AppName: "EmpathAI",
		Summary: promptTitle,
		Body:    promptBody,
		Actions: []string{ActionAllow, "Allow", ActionDeny, "Don't allow"},
		Urgency: 1,
		Timeout: 0,
	})
	if err != nil {
		return permission.Dismissed, err
	}

	for {
		select {
		case <-ctx.Done():
			_ = p.Bus.CloseNotification(context.WithoutCancel(ctx), id)
			return permission.Dismissed, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return permission.Dismissed, nil
			}
			if ev.ID != id {
				continue
			}
			switch ev.Kind {
			case desktop.ActionInvoked:
				_ = p.Bus.CloseNotification(ctx, id)
				switch ev.Action {
				case ActionAllow:
					return permission.Granted, nil
				case ActionDeny:
					return permission.Denied, nil
				}
				return permission.Dismissed, nil
			case desktop.NotificationClosed:
				return permission.Dismissed, nil
			}
		}
	}
}

// AutoGrant answers every prompt with Granted, for headless installs.
type AutoGrant struct{}

func (AutoGrant) Request(context.Context) (permission.State, error) { return permission.Granted, nil }
