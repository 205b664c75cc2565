// Package collector pulls labelled mail into the record store.
package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"jobmail/internal/dataset"
	"jobmail/internal/mailbox"
	"jobmail/internal/metrics"
	"jobmail/internal/textclean"
)

// Appender is the part of the record store sync writes to.
type Appender interface {
	Append(ctx context.Context, recs []dataset.Record) (int, error)
}

// SyncCursor persists the mailbox position in milliseconds.
type SyncCursor interface {
	Load() int64
	Save(ts int64) error
}

type Result struct {
	Fetched int
	Added   int
	Failed  int
	Cursor  int64
}

type Collector struct {
	mail   mailbox.Mailbox
	store  Appender
	cursor SyncCursor
	labels []string
	now    func() time.Time
	logger *zap.Logger
}

func New(mail mailbox.Mailbox, store Appender, cursor SyncCursor, labels []string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		mail:   mail,
		store:  store,
		cursor: cursor,
		labels: append([]string(nil), labels...),
		now:    time.Now,
		logger: logger,
	}
}

// Sync appends every message carrying a class label that arrived after the
// stored cursor. The cursor moves only once the store has accepted them.
func (c *Collector) Sync(ctx context.Context) (Result, error) {
	started := c.now()
	last := c.cursor.Load()
	res := Result{Cursor: last}

	var since time.Time
	if last > 0 {
		since = time.UnixMilli(last).UTC()
		c.logger.Info("syncing labelled mail", zap.Time("since", since))
	} else {
		c.logger.Info("syncing full labelled history")
	}

	var recs []dataset.Record
	for _, label := range c.labels {
		ids, err := c.mail.List(ctx, mailbox.LabelQuery(label, since), 0)
		if err != nil {
			return res, fmt.Errorf("list %s: %w", label, err)
		}
		for _, id := range ids {
			msg, err := c.mail.Get(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Failed++
				metrics.RecordErrorsTotal.WithLabelValues("sync").Inc()
				c.logger.Warn("skipping message", zap.String("message_id", id), zap.Error(err))
				continue
			}
			if msg.InternalDate <= last {
				continue
			}
			res.Fetched++
			recs = append(recs, toRecord(msg, label))
		}
	}

	if len(recs) == 0 {
		c.logger.Info("no new labelled mail")
		return res, nil
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].ReceivedAt.Equal(recs[j].ReceivedAt) {
			return recs[i].ReceivedAt.Before(recs[j].ReceivedAt)
		}
		return recs[i].MessageID < recs[j].MessageID
	})
	added, err := c.store.Append(ctx, recs)
	if err != nil {
		return res, fmt.Errorf("append records: %w", err)
	}
	res.Added = added
	metrics.SyncedRecordsTotal.Add(float64(added))

	if res.Failed > 0 {
		// Keep the cursor so the failed messages are fetched again; the
		// store ignores the ones already appended.
		c.logger.Warn("sync incomplete, cursor left in place",
			zap.Int("added", res.Added), zap.Int("failed", res.Failed))
		return res, nil
	}

	next := started.UnixMilli()
	if err := c.cursor.Save(next); err != nil {
		return res, err
	}
	res.Cursor = next
	c.logger.Info("sync complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed))
	return res, nil
}

func toRecord(m mailbox.Message, label string) dataset.Record {
	text, _ := textclean.TrainingText(m.Subject, m.Body)
	return dataset.Record{
		MessageID:   m.ID,
		ReceivedAt:  m.ReceivedAt,
		Sender:      m.From,
		Subject:     m.Subject,
		Label:       label,
		RawText:     m.Body,
		CleanedText: text,
	}
}
