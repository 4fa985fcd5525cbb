package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"drawbot/internal/drawing"
	"drawbot/internal/transport/telegram/router"
	"drawbot/pkg/humandur"
	"drawbot/pkg/tgui"
)

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, usageText("/drawing start <duration> <winners> <prize...> [--desc \"text\"]"))
	}
	dur, err := humandur.Parse(req.Args[0])
	if err != nil {
		return req.Reply(ctx, failText("Invalid duration", "use forms like 30m, 2h, 1d or 1h30m"))
	}
	winners, err := strconv.Atoi(req.Args[1])
	if err != nil {
		return req.Reply(ctx, failText("Invalid winner count", fmt.Sprintf("%q is not a number", req.Args[1])))
	}

	d, err := b.d.Drawings.Start(ctx, drawing.StartRequest{
		Owner: drawing.Owner{
			ChatID:   req.Chat.ChatID,
			ThreadID: req.Chat.ThreadID,
			UserID:   req.FromID,
			Username: req.FromUsername,
		},
		Prize:       strings.Join(req.Args[2:], " "),
		Description: req.Flag("desc", ""),
		Winners:     winners,
		Duration:    dur,
	})
	b.audit(ctx, req, "drawing.start", d.ID, err, fmt.Sprintf("winners=%d duration=%s", winners, dur))
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	_, loc := b.conf()
	return req.Reply(ctx, tgui.New().
		Line("✅ "+tgui.B("Drawing started")).
		KV("ID", tgui.Code(d.ID)).
		KV("Prize", tgui.Esc(d.Prize)).
		KV("Winners", tgui.Esc(strconv.Itoa(d.WinnersRequested))).
		KV("Ends", tgui.Esc(d.DueAt.In(loc).Format("2006-01-02 15:04 MST")+" (in "+humandur.Format(dur)+")")).
		Text())
}

func (b *Bot) handleComplete(ctx context.Context, req *router.Request) error {
	id, ok := b.ownedID(ctx, req)
	if !ok {
		return nil
	}
	d, err := b.d.Drawings.Complete(ctx, id)
	b.audit(ctx, req, "drawing.complete", id, err, "")
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	return req.Reply(ctx, tgui.New().
		Line("🏁 "+tgui.B("Drawing closed")+tgui.Esc(": ")+tgui.Esc(d.Prize)).
		Line(tgui.Esc(fmt.Sprintf("%d winner(s) drawn from %d entrant(s).", len(d.Winners), d.Entrants))).
		Text())
}

func (b *Bot) handleReroll(ctx context.Context, req *router.Request) error {
	id, ok := b.ownedID(ctx, req)
	if !ok {
		return nil
	}
	d, err := b.d.Drawings.Reroll(ctx, id)
	b.audit(ctx, req, "drawing.reroll", id, err, "")
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	return req.Reply(ctx, tgui.New().
		Line("🔄 "+tgui.B("Rerolled")+tgui.Esc(": ")+tgui.Esc(d.Prize)).
		KV("Winners", winnerList(d.Winners)).
		KV("Rerolls", tgui.Esc(strconv.Itoa(d.RerollCount))).
		Text())
}

func (b *Bot) handleList(ctx context.Context, req *router.Request) error {
	scope := drawing.Scope{ChatID: req.Chat.ChatID}
	if req.BoolFlags["all"] && req.IsOwner {
		scope = drawing.Scope{}
	}
	list, err := b.d.Drawings.ListActive(ctx, scope)
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, tgui.Esc("No open drawings here.").String())
	}
	now := b.d.Now()
	bl := tgui.New().Line("🎉 " + tgui.B(fmt.Sprintf("Open drawings (%d)", len(list)))).Blank()
	for _, d := range list {
		bl.Line("• " + tgui.B(d.Prize) + tgui.Esc(fmt.Sprintf(" - %d winner(s), ends in %s", d.WinnersRequested, humandur.Format(d.Remaining(now)))))
		bl.Line("  " + tgui.Code(d.ID))
	}
	return req.Reply(ctx, bl.Text())
}

func (b *Bot) handleShow(ctx context.Context, req *router.Request) error {
	id, ok := b.ownedID(ctx, req)
	if !ok {
		return nil
	}
	d, err := b.d.Drawings.Get(ctx, id)
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	_, loc := b.conf()
	bl := tgui.New().
		Line("🎁 "+tgui.B(d.Prize)).
		KV("ID", tgui.Code(d.ID))
	if d.Description != "" {
		bl.KV("Description", tgui.Esc(d.Description))
	}
	bl.KV("Host", tgui.Mention(hostName(d.Owner), d.Owner.UserID)).
		KV("Winners requested", tgui.Esc(strconv.Itoa(d.WinnersRequested))).
		KV("Created", tgui.Esc(d.CreatedAt.In(loc).Format("2006-01-02 15:04 MST")))
	if !d.Completed {
		bl.KV("Status", tgui.Esc("open, ends "+d.DueAt.In(loc).Format("2006-01-02 15:04 MST")))
		return req.Reply(ctx, bl.Text())
	}
	bl.KV("Status", tgui.Esc("closed "+d.CompletedAt.In(loc).Format("2006-01-02 15:04 MST"))).
		KV("Entrants", tgui.Esc(strconv.Itoa(d.Entrants))).
		KV("Winners", winnerList(d.Winners))
	if d.RerollCount > 0 {
		bl.KV("Rerolls", tgui.Esc(strconv.Itoa(d.RerollCount)))
	}
	return req.Reply(ctx, bl.Text())
}

func (b *Bot) handleJoin(ctx context.Context, req *router.Request) (string, error) {
	return b.entry(ctx, req, true)
}

func (b *Bot) handleLeave(ctx context.Context, req *router.Request) (string, error) {
	return b.entry(ctx, req, false)
}

func (b *Bot) entry(ctx context.Context, req *router.Request, join bool) (string, error) {
	id := strings.TrimSpace(req.Payload)
	if id == "" {
		return "", nil
	}
	op := b.d.Drawings.Leave
	if join {
		op = b.d.Drawings.Enter
	}
	res, err := op(ctx, id, userKey(req.FromID))
	switch {
	case errors.Is(err, drawing.ErrAlreadyCompleted):
		return "This drawing has ended.", nil
	case errors.Is(err, drawing.ErrNotFound):
		return "This drawing no longer exists.", nil
	case err != nil:
		return "Something went wrong, try again.", err
	case join && !res.Changed:
		return fmt.Sprintf("You are already entered (%d entrants).", res.Count), nil
	case join:
		return fmt.Sprintf("🎉 You're in! %d entrants.", res.Count), nil
	case !res.Changed:
		return "You were not entered.", nil
	default:
		return fmt.Sprintf("You left the drawing. %d entrants.", res.Count), nil
	}
}

// ownedID reads the id argument and checks the drawing belongs to this
// chat. Owners may address any drawing. It replies on failure.
func (b *Bot) ownedID(ctx context.Context, req *router.Request) (string, bool) {
	if len(req.Args) < 1 {
		_ = req.Reply(ctx, usageText("/drawing "+req.Path[len(req.Path)-1]+" <id>"))
		return "", false
	}
	id := strings.TrimSpace(req.Args[0])
	if req.IsOwner {
		return id, true
	}
	d, err := b.d.Drawings.Get(ctx, id)
	if err != nil {
		_ = b.replyErr(ctx, req, err)
		return "", false
	}
	if d.Owner.ChatID != req.Chat.ChatID {
		_ = req.Reply(ctx, failText("Not here", "this drawing belongs to another chat"))
		return "", false
	}
	return id, true
}

// replyErr renders a drawing error for the user. Only retryable failures
// are returned to the middleware for logging.
func (b *Bot) replyErr(ctx context.Context, req *router.Request, err error) error {
	var de *drawing.Error
	if !errors.As(err, &de) {
		_ = req.Reply(ctx, failText("Error", "something went wrong"))
		return err
	}
	title := map[drawing.Kind]string{
		drawing.KindInvalidArgument:     "Invalid request",
		drawing.KindNotFound:            "Not found",
		drawing.KindAlreadyCompleted:    "Already closed",
		drawing.KindNotCompleted:        "Still open",
		drawing.KindStorageIO:           "Storage error",
		drawing.KindTimeout:             "Timed out",
		drawing.KindExternalUnavailable: "Telegram unavailable",
	}[de.Kind]
	reason := de.Reason
	if reason == "" {
		reason = string(de.Kind)
	}
	bl := tgui.New().Line("⚠️ " + tgui.B(title) + tgui.Esc(": "+reason))
	if de.ID != "" {
		bl.KV("ID", tgui.Code(de.ID))
	}
	if de.Retryable() {
		bl.Line(tgui.I("Try again in a moment."))
	}
	_ = req.Reply(ctx, bl.Text())
	if de.Retryable() {
		return err
	}
	return nil
}

func usageText(usage string) string {
	return tgui.New().Line(tgui.B("Usage")).Line(tgui.Code(usage)).Text()
}

func failText(title, reason string) string {
	return ("⚠️ " + tgui.B(title) + tgui.Esc(": "+reason)).String()
}

func hostName(o drawing.Owner) string {
	if o.Username != "" {
		return "@" + o.Username
	}
	return ""
}

func winnerList(ids []string) tgui.H {
	if len(ids) == 0 {
		return tgui.Esc("none")
	}
	parts := make([]tgui.H, 0, len(ids))
	for _, id := range ids {
		if uid, err := strconv.ParseInt(id, 10, 64); err == nil {
			parts = append(parts, tgui.Mention("", uid))
		} else {
			parts = append(parts, tgui.Esc(id))
		}
	}
	return tgui.JoinH(", ", parts...)
}
