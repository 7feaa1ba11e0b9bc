// Package realtime watches the active conversation for new messages through
// a live subscription and a polling fallback.
package realtime

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/status"
	"go.uber.org/zap"
)

// Feed states.
const (
	Detached   status.State = "DETACHED"
	Subscribed status.State = "SUBSCRIBED"
)

var feedTransitions = status.Table{
	Detached:   {Subscribed},
	Subscribed: {Detached},
}

// Defaults for Options.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultPollSize      = 20
	DefaultBaselineSize  = 20
	DefaultDedupCapacity = 1000
)

// Source is where the feed reads messages from. Subscribe delivers new
// messages of one conversation until the returned cancel function is called
// or ctx ends; duplicates are allowed.
type Source interface {
	chat.MessagePager
	Subscribe(ctx context.Context, jid string) (<-chan chat.Message, func(), error)
}

// Handler receives each newly observed message exactly once per attachment.
type Handler func(chat.Message)

// Options tunes a Feed. Zero values select the defaults.
type Options struct {
	PollInterval  time.Duration
	PollSize      int
	BaselineSize  int
	DedupCapacity int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollSize <= 0 {
		o.PollSize = DefaultPollSize
	}
	if o.BaselineSize <= 0 {
		o.BaselineSize = DefaultBaselineSize
	}
	if o.DedupCapacity <= 0 {
		o.DedupCapacity = DefaultDedupCapacity
	}
	return o
}

// Feed funnels the live channel and the poll loop of one conversation
// through a single de-duplication gate.
type Feed struct {
	src     Source
	handler Handler
	opts    Options
	machine *status.Machine
	logger  *zap.Logger

	// opMu serializes Attach and Detach.
	opMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	jid    string
	seen   *SeenSet
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup

	// dispatchMu keeps handler calls from the two producers sequential.
	dispatchMu sync.Mutex
}

// New creates a detached feed. State changes are published on b as
// "feed.status_changed".
func New(src Source, handler Handler, opts Options, b *bus.Bus, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		src:     src,
		handler: handler,
		opts:    opts.withDefaults(),
		machine: status.New(Detached, feedTransitions, "feed.status_changed", b),
		logger:  logger,
	}
}

// Attach detaches from any previous conversation and starts watching jid.
// A failed live subscription leaves the feed running on polling alone.
func (f *Feed) Attach(ctx context.Context, jid string) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	f.detach()

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.jid = jid
	f.seen = NewSeenSet(f.opts.DedupCapacity)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.mu.Unlock()

	live, unsub, err := f.src.Subscribe(runCtx, jid)
	if err != nil {
		f.logger.Warn("live subscription unavailable, polling only", zap.String("jid", jid), zap.Error(err))
		live, unsub = nil, nil
	}

	baseline, err := f.src.GetMessages(ctx, jid, f.opts.BaselineSize, 0)
	if err != nil {
		f.logger.Warn("baseline fetch failed", zap.String("jid", jid), zap.Error(err))
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		cancel()
		if unsub != nil {
			unsub()
		}
		return chat.ErrStale
	}
	for _, m := range baseline {
		if m.ID != "" {
			f.seen.Add(m.ID)
		}
	}
	f.unsub = unsub
	f.wg.Add(1)
	go f.pollLoop(runCtx, gen, jid)
	if live != nil {
		f.wg.Add(1)
		go f.liveLoop(runCtx, gen, live)
	}
	f.mu.Unlock()

	if err := f.machine.Transition(Subscribed); err != nil {
		f.logger.Debug("feed transition", zap.Error(err))
	}
	f.logger.Info("feed attached", zap.String("jid", jid), zap.Int("baseline", len(baseline)), zap.Bool("live", live != nil))
	return nil
}

// Detach stops the live subscription and the poll loop and waits for both to
// exit. It is safe to call at any time, including when already detached.
func (f *Feed) Detach() {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	f.detach()
}

func (f *Feed) detach() {
	f.mu.Lock()
	f.gen++
	cancel, unsub, jid := f.cancel, f.unsub, f.jid
	f.cancel, f.unsub, f.jid = nil, nil, ""
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	f.wg.Wait()

	if f.machine.Current() == Subscribed {
		_ = f.machine.Transition(Detached)
		f.logger.Info("feed detached", zap.String("jid", jid))
	}
}

// State returns the feed state.
func (f *Feed) State() status.State {
	return f.machine.Current()
}

// Conversation returns the attached conversation, or "".
func (f *Feed) Conversation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jid
}

func (f *Feed) liveLoop(ctx context.Context, gen uint64, live <-chan chat.Message) {
	defer f.wg.Done()
	for {
		select {
		case m, ok := <-live:
			if !ok {
				f.logger.Debug("live channel closed")
				return
			}
			f.deliver(gen, m)
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop fetches one page per tick. A tick that fires while a fetch is
// still running is dropped by the ticker, so polls never overlap.
func (f *Feed) pollLoop(ctx context.Context, gen uint64, jid string) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			page, err := f.src.GetMessages(ctx, jid, f.opts.PollSize, 0)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Warn("poll failed", zap.String("jid", jid), zap.Error(err))
				}
				continue
			}
			page = slices.Clone(page)
			slices.Reverse(page)
			for _, m := range page {
				f.deliver(gen, m)
			}
		case <-ctx.Done():
			return
		}
	}
}

// deliver applies the de-duplication gate and dispatches new messages.
func (f *Feed) deliver(gen uint64, m chat.Message) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	if gen != f.gen || m.ID == "" || m.ChatJID != f.jid || !f.seen.Add(m.ID) {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if f.handler != nil {
		f.handler(m)
	}
}
