package tgui

import (
	"strings"

	"drawbot/internal/transport"
)

// Builder accumulates an HTML message and its inline keyboard.
// Default options: ParseMode HTML, link previews disabled.
type Builder struct {
	lines []string
	rows  [][]transport.Button
	reply int
}

func New() *Builder { return &Builder{} }

// Line appends one line of safe HTML.
func (b *Builder) Line(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// KV appends "<b>key:</b> value" when value is not blank.
func (b *Builder) KV(key string, value H) *Builder {
	if strings.TrimSpace(value.String()) == "" {
		return b
	}
	return b.Line(B(key+":") + " " + value)
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// Row appends a row of inline buttons.
func (b *Builder) Row(btns ...transport.Button) *Builder {
	if len(btns) > 0 {
		b.rows = append(b.rows, btns)
	}
	return b
}

func (b *Builder) ReplyTo(messageID int) *Builder {
	b.reply = messageID
	return b
}

func (b *Builder) Text() string { return strings.TrimRight(strings.Join(b.lines, "\n"), "\n") }

func (b *Builder) Options() *transport.SendOptions {
	return &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyTo:        b.reply,
		Buttons:        b.rows,
	}
}
