package notifier

import (
	"fmt"
	"strconv"
	"time"

	"drawbot/internal/drawing"
	"drawbot/internal/transport"
	"drawbot/pkg/humandur"
	"drawbot/pkg/tgui"
)

// Callback data for the announcement buttons: "drw:join:<id>" and "drw:leave:<id>".
const (
	CallbackScope = "drw"
	ActionJoin    = "join"
	ActionLeave   = "leave"
)

// EntryButtons returns the Join and Leave row for drawing id.
func EntryButtons(id string) []transport.Button {
	join, _ := tgui.Data(CallbackScope, ActionJoin, id)
	leave, _ := tgui.Data(CallbackScope, ActionLeave, id)
	return []transport.Button{
		{Text: "🎉 Join", Data: join},
		{Text: "Leave", Data: leave},
	}
}

// ParseEntryCallback reports the action and drawing id behind a button press.
func ParseEntryCallback(data string) (action, id string, ok bool) {
	scope, action, id, ok := tgui.ParseData(data)
	if !ok || scope != CallbackScope || id == "" {
		return "", "", false
	}
	if action != ActionJoin && action != ActionLeave {
		return "", "", false
	}
	return action, id, true
}

func renderOpened(d drawing.Drawing, now time.Time, loc *time.Location) *tgui.Builder {
	b := tgui.New().
		Line("🎉 " + tgui.B("GIVEAWAY") + " 🎉").
		Blank().
		KV("Prize", tgui.Esc(d.Prize))
	if d.Description != "" {
		b.Line(tgui.I(d.Description))
	}
	b.KV("Winners", tgui.Esc(strconv.Itoa(d.WinnersRequested))).
		KV("Ends", tgui.Esc(fmt.Sprintf("%s (in %s)", d.DueAt.In(loc).Format("2006-01-02 15:04 MST"), humandur.Format(d.Remaining(now))))).
		KV("Hosted by", host(d.Owner)).
		Blank().
		Line(tgui.Esc("Tap Join to enter.")).
		Line(tgui.Code(d.ID)).
		Row(EntryButtons(d.ID)...)
	return b
}

func renderClosed(d drawing.Drawing, loc *time.Location) *tgui.Builder {
	b := tgui.New().
		Line("🏁 " + tgui.B("GIVEAWAY ENDED")).
		Blank().
		KV("Prize", tgui.Esc(d.Prize)).
		KV("Ended", tgui.Esc(d.CompletedAt.In(loc).Format("2006-01-02 15:04 MST"))).
		KV("Entrants", tgui.Esc(strconv.Itoa(d.Entrants)))
	if len(d.Winners) == 0 {
		b.KV("Winners", tgui.Esc("no participants"))
	} else {
		b.KV("Winners", mentions(d.Winners))
	}
	return b.Line(tgui.Code(d.ID))
}

func renderResult(d drawing.Drawing, replyTo int) *tgui.Builder {
	b := tgui.New().ReplyTo(replyTo)
	if len(d.Winners) == 0 {
		return b.Line("❌ " + tgui.Esc("The giveaway for ") + tgui.B(d.Prize) + tgui.Esc(" ended without participants."))
	}
	return b.Line("🎉 " + tgui.Esc("Congratulations ") + mentions(d.Winners) + tgui.Esc("! You won ") + tgui.B(d.Prize) + tgui.Esc("!"))
}

func renderRerolled(d drawing.Drawing, replyTo int) *tgui.Builder {
	return tgui.New().ReplyTo(replyTo).
		Line("🔄 " + tgui.Esc("New winners for ") + tgui.B(d.Prize) + tgui.Esc(": ") + mentions(d.Winners) + " 🎉")
}

func host(o drawing.Owner) tgui.H {
	switch {
	case o.Username != "":
		return tgui.Mention("@"+o.Username, o.UserID)
	case o.UserID != 0:
		return tgui.Mention("", o.UserID)
	default:
		return ""
	}
}

func mentions(ids []string) tgui.H {
	parts := make([]tgui.H, 0, len(ids))
	for _, id := range ids {
		if uid, err := strconv.ParseInt(id, 10, 64); err == nil {
			parts = append(parts, tgui.Mention("", uid))
			continue
		}
		parts = append(parts, tgui.Esc(id))
	}
	return tgui.JoinH(", ", parts...)
}
