// Package pipeline runs one classification pass over unread mail.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmail/internal/classifier"
	"jobmail/internal/mailbox"
	"jobmail/internal/metrics"
	"jobmail/internal/storage"
	"jobmail/internal/textclean"
)

// reportLimit caps subjects listed per label in the run report.
const reportLimit = 10

type Classifier interface {
	Classify(recordID, cleanedText string) (classifier.Verdict, error)
}

type Options struct {
	Query      string
	MaxResults int64
	DryRun     bool
	// Labels are every label a verdict can carry, uncertain included,
	// in report order.
	Labels []string
}

type Pipeline struct {
	mail     mailbox.Mailbox
	engine   Classifier
	recorder storage.Recorder
	opts     Options
	now      func() time.Time
	logger   *zap.Logger
}

func New(mail mailbox.Mailbox, engine Classifier, recorder storage.Recorder, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{mail: mail, engine: engine, recorder: recorder, opts: opts, now: time.Now, logger: logger}
}

// Outcome is the verdict for one message.
type Outcome struct {
	MessageID string
	Subject   string
	Verdict   classifier.Verdict
}

type Report struct {
	RunID    string
	DryRun   bool
	Found    int
	Failed   int
	Outcomes []Outcome
	labels   []string
}

// Run classifies every message matching the query. A message that fails
// is logged and skipped; only mailbox-wide failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), DryRun: p.opts.DryRun, labels: p.opts.Labels}
	log := p.logger.With(zap.String("run_id", rep.RunID))

	var labelIDs map[string]string
	if !p.opts.DryRun {
		ids, err := p.mail.EnsureLabels(ctx, p.opts.Labels)
		if err != nil {
			return rep, fmt.Errorf("ensure labels: %w", err)
		}
		labelIDs = ids
	}

	ids, err := p.mail.List(ctx, p.opts.Query, p.opts.MaxResults)
	if err != nil {
		return rep, fmt.Errorf("list unread: %w", err)
	}
	rep.Found = len(ids)
	if len(ids) == 0 {
		log.Info("no unread mail to classify", zap.String("query", p.opts.Query))
		return rep, nil
	}
	log.Info("classifying unread mail", zap.Int("found", len(ids)), zap.Bool("dry_run", p.opts.DryRun))

	events := make([]storage.Event, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		out, stage, err := p.one(ctx, id, labelIDs)
		if err != nil {
			rep.Failed++
			metrics.RecordErrorsTotal.WithLabelValues(stage).Inc()
			log.Warn("skipping message", zap.String("message_id", id), zap.String("stage", stage), zap.Error(err))
			continue
		}
		rep.Outcomes = append(rep.Outcomes, out)
		metrics.VerdictsTotal.WithLabelValues(out.Verdict.Label).Inc()
		metrics.VerdictConfidence.Observe(out.Verdict.Confidence)
		log.Info("classified",
			zap.String("message_id", id),
			zap.String("label", out.Verdict.Label),
			zap.Float64("confidence", out.Verdict.Confidence),
			zap.Strings("key_phrases", out.Verdict.KeyPhrases))

		events = append(events, storage.Event{
			Timestamp:  p.now().UTC(),
			RunID:      rep.RunID,
			MessageID:  id,
			Label:      out.Verdict.Label,
			Confidence: out.Verdict.Confidence,
			DryRun:     p.opts.DryRun,
		})
	}

	if p.recorder != nil {
		if err := p.recorder.Append(events...); err != nil {
			return rep, fmt.Errorf("record verdicts: %w", err)
		}
	}
	return rep, nil
}

func (p *Pipeline) one(ctx context.Context, id string, labelIDs map[string]string) (Outcome, string, error) {
	msg, err := p.mail.Get(ctx, id)
	if err != nil {
		return Outcome{}, "fetch", err
	}
	v, err := p.engine.Classify(id, textclean.ClassificationText(msg.Subject, msg.Body))
	if err != nil {
		return Outcome{}, "classify", err
	}
	if !p.opts.DryRun {
		labelID, ok := labelIDs[v.Label]
		if !ok {
			return Outcome{}, "apply", fmt.Errorf("no mailbox label for %q", v.Label)
		}
		if err := p.mail.Apply(ctx, id, labelID, true); err != nil {
			return Outcome{}, "apply", err
		}
	}
	return Outcome{MessageID: id, Subject: msg.Subject, Verdict: v}, "", nil
}

// ByLabel groups subjects by applied label.
func (r *Report) ByLabel() map[string][]string {
	out := make(map[string][]string, len(r.labels))
	for _, o := range r.Outcomes {
		out[o.Verdict.Label] = append(out[o.Verdict.Label], o.Subject)
	}
	return out
}

// String renders the end-of-run report.
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("CLASSIFICATION REPORT\n")
	fmt.Fprintf(&b, "found %d, classified %d, failed %d\n", r.Found, len(r.Outcomes), r.Failed)

	groups := r.ByLabel()
	order := append([]string(nil), r.labels...)
	for l := range groups {
		if !contains(order, l) {
			order = append(order, l)
		}
	}
	for _, label := range order {
		subjects := groups[label]
		fmt.Fprintf(&b, "\n%s (%d)\n", strings.ToUpper(label), len(subjects))
		if len(subjects) == 0 {
			b.WriteString("  (none)\n")
			continue
		}
		for _, s := range subjects[:min(len(subjects), reportLimit)] {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
		if extra := len(subjects) - reportLimit; extra > 0 {
			fmt.Fprintf(&b, "  ...and %d more\n", extra)
		}
	}
	if r.DryRun {
		b.WriteString("\nDRY RUN: no labels were applied.\n")
	}
	return b.String()
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
