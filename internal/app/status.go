package app

import (
	"context"
	"fmt"
	"strings"

	"empathai/internal/permission"
	"empathai/internal/pipeline"
	rtsup "empathai/internal/runtime/supervisor"
	"empathai/internal/scheduler"
	"empathai/internal/worker"
)

// Status is served on /api/status and summarized by the bot's /status.
type Status struct {
	Permission permission.Status `json:"permission"`
	Sources    map[string]bool   `json:"sources"`
	Pipeline   pipeline.Stats    `json:"pipeline"`
	Worker     *worker.Stats     `json:"worker,omitempty"`
	Clients    int               `json:"clients"`
	Relay      bool              `json:"relay"`
	Jobs       []scheduler.Run   `json:"jobs,omitempty"`
	Supervisor rtsup.Snapshot    `json:"supervisor"`
}

func (a *App) Status(_ context.Context) Status {
	st := Status{
		Permission: a.perm.Status(),
		Sources:    a.status.Snapshot(),
		Pipeline:   a.pipe.Stats(),
		Clients:    len(a.hub.List()),
		Relay:      a.notif.Enabled(),
		Jobs:       a.sched.History(),
		Supervisor: a.sup.Snapshot(),
	}
	if a.worker != nil {
		ws := a.worker.Stats()
		st.Worker = &ws
	}
	return st
}

func (a *App) statusText() string {
	st := a.Status(context.Background())
	var b strings.Builder
	fmt.Fprintf(&b, "EmpathAI status 💜\n")
	fmt.Fprintf(&b, "Permission: %s (notifications %s)\n", st.Permission.State, onOff(st.Permission.Enabled))
	fmt.Fprintf(&b, "Listener: %s\n", onOff(st.Permission.ListenerActive))
	p := st.Pipeline
	fmt.Fprintf(&b, "Handled: %d received, %d presented, %d relayed, %d dropped\n", p.Received, p.Presented, p.Relayed, p.Dropped)
	if st.Worker != nil {
		fmt.Fprintf(&b, "Worker: %s, %d live\n", st.Worker.State, st.Worker.Live)
	}
	return b.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
