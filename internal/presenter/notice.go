package presenter

import (
	"context"

	"empathai/internal/permission"
	logx "empathai/pkg/logx"
)

// Notices shows short permission messages as plain notifications. It
// satisfies permission.Notifier.
type Notices struct {
	S   Strategy
	Log logx.Logger
}

func (n Notices) Notice(ctx context.Context, kind permission.NoticeKind, text string) {
	if n.S == nil || text == "" {
		return
	}
	c := Content{Title: "EmpathAI 💜", Body: text, Tag: "empathai-notice"}
	if err := n.S.Show(ctx, c); err != nil && !n.Log.IsZero() {
		n.Log.Debug("notice not shown", logx.String("kind", string(kind)), logx.Err(err))
	}
}
