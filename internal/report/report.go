// Package report sends the daily sorting summary to the admin.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmail/internal/analytics"
	"jobmail/internal/llm"
	"jobmail/internal/storage"
)

const systemPrompt = `You write a short daily status note about an automated mail sorter.
You receive only per-label counts. Summarise them in two or three plain sentences.
Do not invent numbers and do not use markdown.`

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Reporter struct {
	events    storage.Recorder
	llm       llm.Client
	notifier  Notifier
	uncertain string
	now       func() time.Time
	logger    *zap.Logger
}

// New builds a reporter. client may be nil, in which case the plain
// summary is sent.
func New(events storage.Recorder, client llm.Client, notifier Notifier, uncertainLabel string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		events:    events,
		llm:       client,
		notifier:  notifier,
		uncertain: uncertainLabel,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Build renders the report for the day containing at.
func (r *Reporter) Build(ctx context.Context, at time.Time) (string, error) {
	events, err := r.events.Load()
	if err != nil {
		return "", fmt.Errorf("load verdicts: %w", err)
	}
	stats := analytics.AnalyzeDay(events, at, r.uncertain)
	summary := stats.GenerateReportSummary()
	if r.llm == nil || stats.Total == 0 {
		return summary, nil
	}

	resp, err := r.llm.Generate(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: summary},
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		r.logger.Warn("llm summary unavailable, sending plain report", zap.Error(err))
		return summary, nil
	}
	r.logger.Debug("llm summary",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.TotalTokens))
	return strings.TrimSpace(resp.Content) + "\n\n" + summary, nil
}

// Send builds today's report and delivers it.
func (r *Reporter) Send(ctx context.Context) error {
	text, err := r.Build(ctx, r.now())
	if err != nil {
		return err
	}
	if err := r.notifier.Notify(ctx, text); err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}
	r.logger.Info("daily report sent")
	return nil
}
