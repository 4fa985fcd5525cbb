package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "drawbot/internal/runtime/supervisor"
	kit "drawbot/internal/transport"
	logx "drawbot/pkg/logx"
	"drawbot/pkg/tgui"
)

type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	mu      sync.RWMutex
	root    *cmdNode
	alias   map[string]*cmdNode
	cbs     map[string]CallbackRoute // "scope:action"
	hook    MessageHook
	owners  []int64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    chan func()
}

func New(cfg Config, adapter kit.Adapter, owners []int64, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BusyText == "" {
		cfg.BusyText = "busy, try again"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:     cfg,
		log:     log,
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		cbs:     map[string]CallbackRoute{},
		owners:  slices.Clone(owners),
		adapter: adapter,
		jobs:    make(chan func(), cfg.QueueSize),
	}
}

// Supervisor returns the worker supervisor while dispatching.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// SetOwners replaces the owner list; safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) SetMessageHook(h MessageHook) {
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetRegistry installs commands and callback routes, adds /help and
// refreshes the platform command menu in the background.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show help",
		Usage:       "/help [command] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	var registered []Command
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		registered = append(registered, c)

		// Multi-word routes get a one-word alias for menu autocomplete.
		// A single-word route never aliases itself so subcommands still resolve.
		if menu, ok := menuName(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, dup := alias[menu]; !dup {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" && !strings.Contains(a, " ") {
				alias[strings.ToLower(a)] = leaf
			}
		}
	}

	routes := map[string]CallbackRoute{}
	for _, cb := range cbs {
		if cb.Scope == "" || cb.Action == "" || cb.Handle == nil {
			continue
		}
		routes[cb.Scope+":"+cb.Action] = cb
	}

	r.mu.Lock()
	r.root, r.alias, r.cbs = root, alias, routes
	ad := r.adapter
	r.mu.Unlock()

	if up, ok := ad.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(root, registered)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Run dispatches updates until ctx is done or updates is closed, then
// drains the worker pool for up to three seconds.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup, r.running = sup, true
	jobs := r.jobs
	r.runMu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("queue", cap(jobs)))

	defer func() {
		r.runMu.Lock()
		r.running = false
		close(jobs)
		r.jobs = make(chan func(), r.cfg.QueueSize)
		r.runMu.Unlock()

		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()

		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(fn func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return false
	}
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Route classifies one update and queues its handler.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, username, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:       up,
		Chat:         chat,
		FromID:       fromID,
		FromUsername: username,
		Command:      command,
		ReqID:        rid,
		Adapter:      r.adapter,
		IsOwner:      r.isOwner(fromID),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		hook := r.hook
		r.mu.RUnlock()
		if hook == nil {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, msg.FromUsername, "message")
		h := Chain(func(c context.Context, req *Request) error { return hook(c, req) },
			MWPanicRecover(r.log), MWTimeout(15*time.Second))
		if !r.enqueue(func() { _ = h(ctx, req) }) {
			r.log.Debug("message hook dropped (queue full)")
		}
		return
	}

	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word, args := commandWord(parts[0]), parts[1:]

	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	var (
		node *cmdNode
		path []string
	)
	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		node, path = leaf, splitRoute(leaf.cmd.Route)
	} else {
		var found bool
		node, path, args, found = root.walk(word, args)
		if !found {
			// Unknown commands in groups are usually meant for another bot.
			if !msg.IsGroup {
				_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
			}
			return
		}
	}

	if node.cmd == nil {
		req := r.newRequest(up, chat, msg.FromID, msg.FromUsername, strings.Join(path, " "))
		_ = req.Reply(ctx, r.helpText(path))
		return
	}

	cmd := *node.cmd
	req := r.newRequest(up, chat, msg.FromID, msg.FromUsername, cmd.Route)
	req.Path = path
	req.RawArgs = args
	req.Args, req.Flags, req.BoolFlags = parseFlags(args)

	h := Chain(cmd.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(cmd.Timeout))
	if !r.enqueue(func() {
		if !r.allowed(ctx, cmd.Access, req) {
			_ = req.Reply(ctx, tgui.Esc("⛔ You are not allowed to run this command.").String())
			return
		}
		_ = h(ctx, req)
	}) {
		_, _ = r.adapter.SendText(ctx, chat, r.cfg.BusyText, nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	scope, action, payload, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		return
	}
	r.mu.RLock()
	route, ok := r.cbs[scope+":"+action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.FromID, cb.FromUsername, "cb:"+scope+":"+action)
	req.Payload = payload

	var toast string
	h := Chain(func(c context.Context, req *Request) error {
		var err error
		toast, err = route.Handle(c, req)
		return err
	}, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(route.Timeout))

	if !r.enqueue(func() {
		if !r.allowed(ctx, route.Access, req) {
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
			return
		}
		_ = h(ctx, req)
		_ = r.adapter.AnswerCallback(ctx, cb.ID, toast)
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func (r *Router) allowed(ctx context.Context, a Access, req *Request) bool {
	switch {
	case a == AccessEveryone || req.IsOwner:
		return true
	case a == AccessAdmin:
		ac, ok := req.Adapter.(kit.AdminChecker)
		if !ok {
			return false
		}
		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		admin, err := ac.IsChatAdmin(c, req.Chat.ChatID, req.FromID)
		if err != nil {
			req.Logger.Debug("admin lookup failed", logx.Err(err))
			return false
		}
		return admin
	default:
		return false
	}
}
