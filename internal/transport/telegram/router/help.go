package router

import (
	"sort"
	"strings"

	"drawbot/pkg/tgui"
)

// helpText renders HTML help for the top level or for path.
func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}
	cur, full := root, make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(p)
		next, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil {
				return helpNode(leaf, splitRoute(leaf.cmd.Route))
			}
			return tgui.New().
				Line("❓ " + tgui.B("Unknown command")).
				Line(tgui.Esc("Send ") + tgui.Code("/help") + tgui.Esc(" for the command list.")).
				Text()
		}
		cur, full = next, append(full, p)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		name, desc string
		access     Access
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: summarize(n), access: n.minAccess()})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].access != rows[j].access {
			return rows[i].access < rows[j].access
		}
		return rows[i].name < rows[j].name
	})

	b := tgui.New().
		Line("📚 " + tgui.B("Commands")).
		Line(tgui.Esc("Send ") + tgui.Code("/help <command>") + tgui.Esc(" for details.")).
		Blank()
	for _, r := range rows {
		line := "• " + lockIcon(r.access) + tgui.Code("/"+r.name)
		if r.desc != "" {
			line += tgui.Esc(" - " + r.desc)
		}
		b.Line(line)
	}
	return b.Text()
}

func helpNode(cur *cmdNode, full []string) string {
	b := tgui.New().Line("📚 " + tgui.B("Help") + " " + tgui.Code("/"+strings.Join(full, " ")))
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			b.Line(tgui.Esc(d))
		}
		if note := accessNote(c.Access); note != "" {
			b.Line(note)
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.Blank().Line(tgui.B("Usage")).Line(tgui.Code(u))
		}
		if len(c.Aliases) > 0 {
			parts := make([]tgui.H, 0, len(c.Aliases))
			for _, a := range c.Aliases {
				parts = append(parts, tgui.Code("/"+a))
			}
			b.KV("Aliases", tgui.JoinH(", ", parts...))
		}
	} else {
		b.Line(tgui.Esc("Command group."))
	}

	if len(cur.children) > 0 {
		b.Blank().Line(tgui.B("Subcommands"))
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "• " + lockIcon(n.minAccess()) + tgui.Code("/"+strings.Join(append(append([]string(nil), full...), name), " "))
			if d := summarize(n); d != "" {
				line += tgui.Esc(" - " + d)
			}
			b.Line(line)
		}
	}
	return b.Text()
}

func summarize(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	s := strings.Join(kids[:min(3, len(kids))], ", ")
	if len(kids) > 3 {
		s += ", …"
	}
	return s
}

func lockIcon(a Access) tgui.H {
	switch a {
	case AccessOwnerOnly:
		return "🔒 "
	case AccessAdmin:
		return "🛡 "
	}
	return ""
}

func accessNote(a Access) tgui.H {
	switch a {
	case AccessOwnerOnly:
		return "🔒 " + tgui.I("bot owners only")
	case AccessAdmin:
		return "🛡 " + tgui.I("chat admins and bot owners")
	}
	return ""
}
