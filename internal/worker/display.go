package worker

import (
	"context"

	"empathai/internal/desktop"
	"empathai/internal/presenter"
)

// Display shows notifications and reports clicks and closes.
type Display interface {
	Show(ctx context.Context, c presenter.Content) (uint32, error)
	Dismiss(ctx context.Context, id uint32) error
	Events() (<-chan desktop.Event, func())
}

// DesktopDisplay renders content through the freedesktop notification
// server with a default action so body clicks are reported.
type DesktopDisplay struct {
	Client *desktop.Client
}

func (d DesktopDisplay) Show(ctx context.Context, c presenter.Content) (uint32, error) {
	return d.Client.Notify(ctx, desktop.Notification{
		AppName:  presenter.AppName,
		Summary:  c.Title,
		Body:     c.Body,
		Actions:  []string{desktop.DefaultAction, "Open chat"},
		Urgency:  byte(c.Urgency()),
		Timeout:  c.ExpireTimeout(),
		Category: "im",
	})
}

func (d DesktopDisplay) Dismiss(ctx context.Context, id uint32) error {
	return d.Client.CloseNotification(ctx, id)
}

func (d DesktopDisplay) Events() (<-chan desktop.Event, func()) {
	return d.Client.Subscribe(32)
}
