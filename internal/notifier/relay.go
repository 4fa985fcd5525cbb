package notifier

import (
	"context"
	"fmt"

	"drawbot/internal/drawing"
	"drawbot/internal/eventbus"
	"drawbot/internal/task/engine"
	"drawbot/internal/transport"
	"drawbot/pkg/tgui"
)

// Relay forwards drawing lifecycle events and task failures to the log
// chat until ctx is done.
func Relay(ctx context.Context, bus eventbus.Bus, svc *Service, to transport.ChatTarget) {
	events, unsubscribe := bus.Subscribe(64, "drawing.", engine.EventFailed)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			n, ok := relayNotification(e)
			if !ok {
				continue
			}
			n.Target = to
			_ = svc.Notify(ctx, n)
		}
	}
}

func relayNotification(e eventbus.Event) (Notification, bool) {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	switch d := e.Data.(type) {
	case drawing.Event:
		var text tgui.H
		switch e.Type {
		case drawing.EventStarted:
			text = tgui.Esc("Drawing started: ") + tgui.B(d.Prize)
		case drawing.EventCompleted:
			text = tgui.Esc(fmt.Sprintf("Drawing completed: %d entrants, %d winners: ", d.Entrants, len(d.Winners))) + tgui.B(d.Prize)
		case drawing.EventRerolled:
			text = tgui.Esc("Drawing rerolled: ") + tgui.B(d.Prize)
		default:
			return Notification{}, false
		}
		text += "\n" + tgui.Code(d.ID)
		return Notification{Channel: e.Type, Text: text.String(), Priority: 3, Options: opt}, true
	case engine.TaskEvent:
		text := tgui.B("Task failed") + tgui.Esc(": ") + tgui.Code(d.Name) +
			tgui.Esc(fmt.Sprintf(" after %d attempt(s)\n", d.Attempts)) + tgui.Code(tgui.TruncRunes(d.Error, 300))
		return Notification{Channel: "task.failed:" + d.Name, Text: text.String(), Priority: 7, Options: opt}, true
	}
	return Notification{}, false
}
