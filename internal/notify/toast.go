package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/overseer-dev/overseer/internal/domain"
)

// ToastChannel shows a desktop toast for HelpRequested/GateEscalated
// events, grounded on the teacher's ToastNotifier.
type ToastChannel struct {
	appID        string
	dashboardURL string
}

func NewToastChannel(appID, dashboardURL string) *ToastChannel {
	if appID == "" {
		appID = "overseer"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &ToastChannel{appID: appID, dashboardURL: dashboardURL}
}

func (t *ToastChannel) Name() string { return "toast" }

func (t *ToastChannel) ShouldNotify(ev *domain.Event) bool { return relevant(ev) }

func (t *ToastChannel) Send(ev *domain.Event) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on windows")
	}

	title := "Gate escalated"
	if ev.Type == domain.EventHelpRequested {
		title = "Agent needs help"
	}

	n := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: fmt.Sprintf("task %s", ev.TaskID),
		Audio:   toast.IM,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Overseer", Arguments: t.dashboardURL},
		},
	}
	return n.Push()
}
