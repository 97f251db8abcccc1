package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/secondbrain/internal/mailbox"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/normalize"
	"github.com/nhle/secondbrain/internal/outbound"
	"github.com/nhle/secondbrain/internal/store"
)

const (
	defaultInterval       = 60 * time.Second
	minInterval           = time.Second
	defaultParseTimeout   = 5 * time.Second
	defaultProcessTimeout = 2 * time.Minute
	errNotConfigured      = "not configured"
)

// Processor stores a routed message for a tenant. It reports whether the
// message was stored.
type Processor func(ctx context.Context, msg model.NormalizedMessage, tenantID string) (bool, error)

// Parser turns a fetched payload into a message and its cleaned view.
// *normalize.Normalizer is the production implementation.
type Parser interface {
	Parse(raw []byte, received time.Time) (model.RawMessage, error)
	Normalize(msg model.RawMessage) model.NormalizedMessage
}

// TenantResolver maps a routing code to a tenant. Unknown codes return an
// error wrapping store.ErrNotFound.
type TenantResolver interface {
	TenantByRoutingCode(ctx context.Context, code string) (*model.Tenant, error)
}

// DuplicateChecker reports whether a Message-ID was already handled.
type DuplicateChecker interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// RoutingReplier tells a sender that their message could not be routed.
type RoutingReplier interface {
	SendRoutingFailure(ctx context.Context, to, subject, messageID string) outbound.Result
}

// Config wires the poller to its collaborators. Mailbox, Tenants,
// Duplicates and Process are required.
type Config struct {
	Mailbox    mailbox.Mailbox
	Normalizer Parser
	Tenants    TenantResolver
	Duplicates DuplicateChecker
	Replier    RoutingReplier
	Process    Processor
	Scheduler  Scheduler
	Logger     *slog.Logger

	Interval       time.Duration
	ParseTimeout   time.Duration
	ProcessTimeout time.Duration

	// SelfAddress is never sent a routing-failure reply.
	SelfAddress string
}

// Status is a snapshot of the poller state.
type Status struct {
	Running    bool              `json:"running"`
	Configured bool              `json:"configured"`
	Interval   time.Duration     `json:"interval"`
	LastPoll   time.Time         `json:"last_poll,omitzero"`
	LastResult *model.PollResult `json:"last_result,omitempty"`
	Cycles     int               `json:"cycles"`
}

// PollResultMsg is a tea.Msg sent when a poll cycle completes.
type PollResultMsg struct {
	Result model.PollResult
	At     time.Time
}

// Poller drains the inbox on a fixed interval and routes each unread
// message to its tenant.
type Poller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	resultCh chan PollResultMsg

	// cycleMu serializes poll cycles so scheduled and manual polls never
	// overlap.
	cycleMu gosync.Mutex

	mu         gosync.Mutex
	running    bool
	generation int
	stop       func()
	lastPoll   time.Time
	lastResult *model.PollResult
	cycles     int
}

// New creates a new Poller.
func New(cfg Config) *Poller {
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickerScheduler{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = defaultParseTimeout
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		cfg:      cfg,
		logger:   logger.With("component", "poller"),
		now:      time.Now,
		resultCh: make(chan PollResultMsg, 16),
	}
}

// Start begins polling: one cycle runs immediately and then one per
// interval. Calling Start while running, or without a configured
// mailbox, logs a warning and does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn("poller already running")
		return
	}
	if !p.cfg.Mailbox.Configured() {
		p.mu.Unlock()
		p.logger.Warn("mailbox not configured, poller disabled")
		return
	}
	p.running = true
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	p.logger.Info("poller started", "interval", p.cfg.Interval)

	// Every may run the first cycle before returning, so it is called
	// without holding mu.
	stop := p.cfg.Scheduler.Every(p.cfg.Interval, func() {
		p.runCycle(ctx)
	})

	p.mu.Lock()
	if p.running && p.generation == gen {
		p.stop = stop
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	// Stop ran while the schedule was being installed.
	stop()
}

// Stop prevents future cycles. A cycle already in flight runs to
// completion.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.running = false
	p.logger.Info("poller stopped")
}

// Running reports whether the poller is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Running:    p.running,
		Configured: p.cfg.Mailbox.Configured(),
		Interval:   p.cfg.Interval,
		LastPoll:   p.lastPoll,
		Cycles:     p.cycles,
	}
	if p.lastResult != nil {
		r := *p.lastResult
		r.Errors = append([]string(nil), p.lastResult.Errors...)
		st.LastResult = &r
	}
	return st
}

// Trigger returns a tea.Cmd that runs an immediate poll and yields its
// PollResultMsg.
func (p *Poller) Trigger(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		res := p.PollNow(ctx)
		return PollResultMsg{Result: res, At: p.now()}
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next scheduled
// cycle result. Call it again after each PollResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return msg
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	res := p.PollNow(ctx)
	p.sendResult(PollResultMsg{Result: res, At: p.now()})
}

// sendResult sends a PollResultMsg without blocking.
func (p *Poller) sendResult(msg PollResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if nobody is listening
	}
}

// PollNow runs one cycle: fetch all unread messages, mark them read,
// then route and process them oldest first. Failures are reported in the
// result rather than returned.
func (p *Poller) PollNow(ctx context.Context) model.PollResult {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	res := model.PollResult{Errors: []string{}}
	defer func() { p.record(res) }()

	if !p.cfg.Mailbox.Configured() {
		res.Errors = append(res.Errors, errNotConfigured)
		return res
	}

	msgs, err := p.drain(ctx, &res)
	if err != nil {
		p.logger.Warn("poll failed", "error", err)
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Date.Before(msgs[j].Date)
	})

	// The batch is already marked read: routing ignores cancellation and
	// each processor call keeps its own deadline.
	routeCtx := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		p.route(routeCtx, msg, &res)
	}

	p.logger.Info("poll cycle complete",
		"found", res.Found,
		"processed", res.Processed,
		"duplicates", res.Duplicates,
		"unroutable", res.Unroutable,
		"errors", len(res.Errors),
	)
	return res
}

func (p *Poller) record(res model.PollResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPoll = p.now()
	p.lastResult = &res
	p.cycles++
}

// drain opens a session, fetches and parses every unread message and
// marks all of them read before the session is closed. Parse failures
// are added to res; only connection-level failures are returned.
func (p *Poller) drain(ctx context.Context, res *model.PollResult) ([]model.RawMessage, error) {
	session, err := p.cfg.Mailbox.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.logger.Debug("closing mailbox session", "error", err)
		}
	}()

	if err := session.SelectInbox(); err != nil {
		return nil, err
	}

	uids, err := session.SearchUnseen()
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	fetched, err := session.Fetch(uids)
	if err != nil && len(fetched) == 0 {
		return nil, err
	}
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.Found = len(fetched)

	parsed := p.parseAll(fetched)

	seen := make([]uint32, len(fetched))
	for i, f := range fetched {
		seen[i] = f.UID
	}
	if err := session.MarkSeen(seen); err != nil {
		p.logger.Warn("marking messages read", "count", len(seen), "error", err)
		res.Errors = append(res.Errors, err.Error())
	}

	msgs := make([]model.RawMessage, 0, len(parsed))
	for _, pr := range parsed {
		if pr.err != nil {
			p.logger.Warn("parse failed", "uid", pr.uid, "error", pr.err)
			res.Errors = append(res.Errors, fmt.Sprintf("parse uid %d: %v", pr.uid, pr.err))
			continue
		}
		msgs = append(msgs, pr.msg)
	}
	return msgs, nil
}

type parseResult struct {
	uid uint32
	msg model.RawMessage
	err error
}

// parseAll parses fetched messages concurrently and waits for all of
// them. Each parse is bounded by the parse timeout, not by a context.
func (p *Poller) parseAll(fetched []mailbox.Fetched) []parseResult {
	out := make([]parseResult, len(fetched))

	var wg gosync.WaitGroup
	for i, f := range fetched {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = p.parseOne(f)
		}()
	}
	wg.Wait()

	return out
}

func (p *Poller) parseOne(f mailbox.Fetched) parseResult {
	done := make(chan parseResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- parseResult{uid: f.UID, err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		msg, err := p.cfg.Normalizer.Parse(f.Raw, f.InternalDate)
		msg.UID = f.UID
		done <- parseResult{uid: f.UID, msg: msg, err: err}
	}()

	timer := time.NewTimer(p.cfg.ParseTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r
	case <-timer.C:
		return parseResult{uid: f.UID, err: fmt.Errorf("parse timed out after %s", p.cfg.ParseTimeout)}
	}
}

// route applies the routing rules to one message and updates res.
func (p *Poller) route(ctx context.Context, raw model.RawMessage, res *model.PollResult) {
	log := p.logger.With("message_id", raw.MessageID, "from", raw.From)

	code := RoutingCode(raw.To)
	if code == "" {
		log.Info("unroutable message: no routing code")
		p.replyUnroutable(ctx, raw)
		res.Unroutable++
		return
	}

	tenant, err := p.cfg.Tenants.TenantByRoutingCode(ctx, code)
	switch {
	case errors.Is(err, store.ErrNotFound) || (err == nil && tenant == nil):
		log.Info("unroutable message: unknown routing code", "code", code)
		p.replyUnroutable(ctx, raw)
		res.Unroutable++
		return
	case err != nil:
		log.Warn("tenant lookup failed", "code", code, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("message %s: %v", raw.MessageID, err))
		return
	}

	dup, err := p.cfg.Duplicates.Seen(ctx, raw.MessageID)
	if err != nil {
		log.Warn("duplicate check failed", "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("message %s: %v", raw.MessageID, err))
		return
	}
	if dup {
		log.Debug("skipping duplicate message")
		res.Duplicates++
		return
	}

	stored, err := p.process(ctx, p.cfg.Normalizer.Normalize(raw), tenant.ID)
	switch {
	case err != nil:
		log.Warn("processing failed", "tenant", tenant.ID, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("message %s: %v", raw.MessageID, err))
	case !stored:
		res.Errors = append(res.Errors, fmt.Sprintf("message %s: not stored", raw.MessageID))
	default:
		res.Processed++
	}
}

// process invokes the processor with its own deadline and converts a
// panic into an error.
func (p *Poller) process(ctx context.Context, msg model.NormalizedMessage, tenantID string) (stored bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			stored, err = false, fmt.Errorf("processor panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessTimeout)
	defer cancel()

	return p.cfg.Process(ctx, msg, tenantID)
}

func (p *Poller) replyUnroutable(ctx context.Context, raw model.RawMessage) {
	if p.cfg.Replier == nil {
		return
	}
	if raw.From == "" || raw.From == normalize.UnknownSender ||
		strings.EqualFold(raw.From, p.cfg.SelfAddress) {
		return
	}

	r := p.cfg.Replier.SendRoutingFailure(ctx, raw.From, raw.Subject, raw.MessageID)
	if !r.Success {
		p.logger.Info("routing failure reply not sent", "to", raw.From, "error", r.Error)
	}
}
