// Package capture is the processor the poller hands routed messages to.
// It stores entries, binds them to correlation threads and confirms each
// capture to the sender.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/secondbrain/internal/classify"
	"github.com/nhle/secondbrain/internal/correlation"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/normalize"
	"github.com/nhle/secondbrain/internal/outbound"
	"github.com/nhle/secondbrain/internal/reply"
	"github.com/nhle/secondbrain/internal/store"
)

const noSubject = "(no subject)"

// Store is the persistence the processor needs.
type Store interface {
	CreateEntry(ctx context.Context, e model.Entry) error
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
	UpdateEntryCategory(ctx context.Context, id string, c model.Category, confidence float64) error
	AppendEntryNote(ctx context.Context, id, note string) error
	CreateThread(ctx context.Context, th model.Thread) error
	ThreadByToken(ctx context.Context, token string) (*model.Thread, error)
	ThreadReferences(ctx context.Context, threadID string) ([]string, error)
}

// Tracker mints tokens and records message history.
type Tracker interface {
	GenerateToken() (string, error)
	LookupByMessageID(ctx context.Context, messageID string) (*model.Thread, error)
	RecordMessage(ctx context.Context, threadID, messageID string, dir model.Direction) error
}

// Confirmer sends the capture confirmation.
type Confirmer interface {
	SendConfirmation(ctx context.Context, p reply.ConfirmationParams) outbound.Result
}

// Processor stores routed messages for their tenant.
type Processor struct {
	store      Store
	tracker    Tracker
	confirmer  Confirmer
	classifier classify.Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Processor. A nil classifier files unhinted mail with the
// default category.
func New(s Store, t Tracker, c Confirmer, cl classify.Classifier, logger *slog.Logger) *Processor {
	if cl == nil {
		cl = classify.HintClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      s,
		tracker:    t,
		confirmer:  c,
		classifier: cl,
		logger:     logger.With("component", "capture"),
		now:        time.Now,
	}
}

// Process stores msg for tenantID. A message continuing a known thread of
// the same tenant updates that thread's entry; anything else starts a new
// entry and thread. It reports true once the entry is stored, even when
// the confirmation could not be sent.
func (p *Processor) Process(ctx context.Context, msg model.NormalizedMessage, tenantID string) (bool, error) {
	th, err := p.findThread(ctx, msg)
	if err != nil {
		return false, err
	}
	if th != nil && th.TenantID == tenantID {
		return p.followUp(ctx, msg, th)
	}
	return p.capture(ctx, msg, tenantID)
}

// findThread resolves the conversation by token first, then by the
// message being replied to.
func (p *Processor) findThread(ctx context.Context, msg model.NormalizedMessage) (*model.Thread, error) {
	if msg.Token != "" {
		th, err := p.store.ThreadByToken(ctx, msg.Token)
		switch {
		case err == nil:
			return th, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("looking up thread %s: %w", msg.Token, err)
		}
	}

	if id := msg.Raw.InReplyTo; id != "" {
		return p.tracker.LookupByMessageID(ctx, id)
	}
	return nil, nil
}

func (p *Processor) capture(ctx context.Context, msg model.NormalizedMessage, tenantID string) (bool, error) {
	raw := msg.Raw
	subject := normalize.BaseSubject(raw.Subject)

	cls := p.classify(ctx, msg, subject)
	if subject == "" {
		subject = noSubject
	}

	now := p.now().UTC()
	entry := model.Entry{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Name:       cls.Name,
		Category:   cls.Category,
		Confidence: cls.Confidence,
		Body:       msg.CleanedText,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.CreateEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("storing entry: %w", err)
	}

	log := p.logger.With("entry", entry.ID, "tenant", tenantID)
	log.Info("entry captured", "category", entry.Category, "confidence", entry.Confidence)

	token, err := p.tracker.GenerateToken()
	if err != nil {
		log.Warn("entry stored without thread", "error", err)
		return true, nil
	}

	th := model.Thread{
		ID:        uuid.New().String(),
		Token:     token,
		TenantID:  tenantID,
		EntryID:   entry.ID,
		Subject:   subject,
		CreatedAt: now,
	}
	if err := p.store.CreateThread(ctx, th); err != nil {
		log.Warn("entry stored without thread", "error", err)
		return true, nil
	}

	if err := p.tracker.RecordMessage(ctx, th.ID, raw.MessageID, model.DirectionInbound); err != nil {
		log.Warn("recording inbound message", "error", err)
	}

	p.confirm(ctx, raw, th, entry.Summary(), raw.References)
	return true, nil
}

func (p *Processor) classify(ctx context.Context, msg model.NormalizedMessage, subject string) classify.Classification {
	if msg.HasHint() {
		return classify.FromHint(msg.Category, subject, msg.CleanedText)
	}

	cls, err := p.classifier.Classify(ctx, subject, msg.CleanedText)
	if err != nil || !classify.Valid(cls.Category) {
		p.logger.Warn("classifier failed, using default category", "error", err)
		cls, _ = classify.HintClassifier{}.Classify(ctx, subject, msg.CleanedText)
	}
	return cls
}

func (p *Processor) followUp(ctx context.Context, msg model.NormalizedMessage, th *model.Thread) (bool, error) {
	raw := msg.Raw

	entry, err := p.store.GetEntry(ctx, th.EntryID)
	if err != nil {
		return false, fmt.Errorf("loading entry for thread %s: %w", th.Token, err)
	}

	if msg.HasHint() {
		if err := p.store.UpdateEntryCategory(ctx, entry.ID, msg.Category, classify.HintConfidence); err != nil {
			return false, fmt.Errorf("reclassifying entry: %w", err)
		}
		entry.Category = msg.Category
		entry.Confidence = classify.HintConfidence
		p.logger.Info("entry reclassified", "entry", entry.ID, "category", entry.Category)
	}

	if msg.CleanedText != "" {
		if err := p.store.AppendEntryNote(ctx, entry.ID, msg.CleanedText); err != nil {
			return false, fmt.Errorf("appending note: %w", err)
		}
		p.logger.Info("note appended", "entry", entry.ID)
	}

	if err := p.tracker.RecordMessage(ctx, th.ID, raw.MessageID, model.DirectionInbound); err != nil {
		p.logger.Warn("recording inbound message", "entry", entry.ID, "error", err)
	}

	refs, err := p.store.ThreadReferences(ctx, th.ID)
	if err != nil {
		p.logger.Warn("loading thread references", "thread", th.ID, "error", err)
		refs = raw.References
	}

	p.confirm(ctx, raw, *th, entry.Summary(), refs)
	return true, nil
}

// confirm sends the confirmation and records its Message-ID on the
// thread. Failures are logged only.
func (p *Processor) confirm(
	ctx context.Context,
	raw model.RawMessage,
	th model.Thread,
	summary model.EntrySummary,
	refs []string,
) {
	if raw.From == "" || raw.From == normalize.UnknownSender {
		return
	}

	res := p.confirmer.SendConfirmation(ctx, reply.ConfirmationParams{
		To:         raw.From,
		Subject:    th.Subject,
		Token:      th.Token,
		Entry:      summary,
		MessageID:  raw.MessageID,
		References: refs,
	})
	if !res.Success {
		p.logger.Warn("confirmation not sent",
			"token", correlation.FormatToken(th.Token), "to", raw.From, "error", res.Error)
		return
	}

	if err := p.tracker.RecordMessage(ctx, th.ID, res.MessageID, model.DirectionOutbound); err != nil {
		p.logger.Warn("recording confirmation", "message_id", res.MessageID, "error", err)
	}
}
