package router

import (
	"sort"
	"strings"
)

type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func splitRoute(route string) []string { return strings.Fields(route) }

func (n *cmdNode) add(route []string, c Command) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walk follows args down the tree and returns the deepest node reached,
// the matched path and the remaining args. Traversal stops at a flag.
func (n *cmdNode) walk(first string, args []string) (*cmdNode, []string, []string, bool) {
	cur, ok := n.child(first)
	if !ok {
		return nil, nil, args, false
	}
	path := []string{first}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur, path, args = next, append(path, args[0]), args[1:]
	}
	return cur, path, args, true
}

// minAccess is the most permissive access of n and its descendants.
func (n *cmdNode) minAccess() Access {
	best := AccessOwnerOnly
	if n.cmd != nil {
		best = n.cmd.Access
	}
	for _, c := range n.children {
		best = min(best, c.minAccess())
	}
	return best
}
