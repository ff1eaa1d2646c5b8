// Package audit posts short notices about server lifecycle events to a
// Matrix room so operators can follow what hako launched without reading the
// registry.
//
// Every notice carries the trace ID of the command that produced it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Hako/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindServerLaunched Kind = "server.launched"
	KindServerStopped  Kind = "server.stopped"
	KindServerExited   Kind = "server.exited"
	KindServerRemoved  Kind = "server.removed"
	KindLaunchFailed   Kind = "launch.failed"
	KindError          Kind = "error"
)

// DefaultSendTimeout bounds a single notice.
const DefaultSendTimeout = 5 * time.Second

// Event carries the data that the notifier formats and sends.
type Event struct {
	Kind Kind
	// Server is the server name the event concerns.
	Server string
	// Image and ContainerID are included when known.
	Image       string
	ContainerID string
	Message     string
	// TraceID defaults to the trace in the context.
	TraceID string
}

// Notifier reports lifecycle events. Notify never fails the caller: send
// errors are logged.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sender is the subset of the Matrix client used by MatrixNotifier.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// MatrixNotifier posts formatted notices to a Matrix room.
type MatrixNotifier struct {
	sender  Sender
	roomID  string
	timeout time.Duration
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{sender: sender, roomID: roomID, timeout: DefaultSendTimeout}
}

// Notify formats evt and posts it, waiting at most the send timeout.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	msg := Format(evt, trace.FromContext(ctx))

	// A cancelled command context must not drop the notice of why it ended.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.sender.SendNotice(sendCtx, n.roomID, msg); err != nil {
		slog.Warn("audit notifier: failed to send room notice", "room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	slog.Debug("audit notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
}

// Format renders evt as a notice body. ctxTrace is used when evt has no
// trace ID of its own.
func Format(evt Event, ctxTrace string) string {
	icon := kindIcon(evt.Kind)
	msg := fmt.Sprintf("%s [%s] %s", icon, evt.Kind, evt.Message)
	if evt.Server != "" {
		msg = fmt.Sprintf("%s %s → %s", icon, evt.Server, evt.Message)
	}
	if evt.Image != "" {
		msg += "\n  image: " + evt.Image
	}
	if evt.ContainerID != "" {
		msg += "\n  container: " + evt.ContainerID
	}
	tid := evt.TraceID
	if tid == "" {
		tid = ctxTrace
	}
	if tid != "" {
		msg += "\n  trace: " + tid
	}
	return msg
}

// Noop is the Notifier used when no audit room is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Event) {}

func kindIcon(k Kind) string {
	switch k {
	case KindServerLaunched:
		return "🟢"
	case KindServerStopped:
		return "⏹️"
	case KindServerExited:
		return "⚠️"
	case KindServerRemoved:
		return "🗑️"
	case KindLaunchFailed:
		return "❌"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
