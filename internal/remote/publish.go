package remote

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmail/internal/metrics"
	"jobmail/internal/model"
	"jobmail/internal/trainer"
)

type Result struct {
	RunID    string
	Total    int
	Cursor   int
	Skipped  bool
	Artifact string
	Duration time.Duration
}

// Publisher drives one remote training round: snapshot, build, validate,
// publish, then advance the cursor.
type Publisher struct {
	builder Builder
	source  trainer.Source
	cursor  trainer.Cursor
	store   trainer.Store
	labels  []string
	logger  *zap.Logger
}

func NewPublisher(builder Builder, source trainer.Source, cursor trainer.Cursor, store trainer.Store, labels []string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{builder: builder, source: source, cursor: cursor, store: store, labels: labels, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res.RunID = uuid.NewString()
	log := p.logger.With(zap.String("run_id", res.RunID), zap.String("mode", "remote"))
	defer func() {
		switch {
		case err != nil:
			metrics.TrainingRunsTotal.WithLabelValues("failed").Inc()
		case res.Skipped:
			metrics.TrainingRunsTotal.WithLabelValues("noop").Inc()
		default:
			metrics.TrainingRunsTotal.WithLabelValues("trained").Inc()
			metrics.TrainingDuration.Observe(res.Duration.Seconds())
			metrics.TrainedRows.Set(float64(res.Total))
		}
	}()

	data, err := p.source.Labeled(ctx)
	if err != nil {
		return res, fmt.Errorf("load dataset: %w", err)
	}
	if data.Len() == 0 {
		return res, trainer.ErrNoDataset
	}
	res.Total, res.Cursor = data.Len(), p.cursor.Load()
	if res.Total <= res.Cursor {
		log.Info("no new records since last training", zap.Int("total", res.Total), zap.Int("cursor", res.Cursor))
		res.Skipped = true
		return res, nil
	}

	path, err := p.builder.Build(ctx, Snapshot{Labels: p.labels, Cursor: res.Cursor, Dataset: data})
	if err != nil {
		return res, fmt.Errorf("remote build: %w", err)
	}
	res.Artifact = path

	ckpt, err := model.LoadFile(path)
	if err != nil {
		return res, fmt.Errorf("validate artifact: %w", err)
	}
	if !slices.Equal(ckpt.Labels, p.labels) {
		return res, fmt.Errorf("artifact labels %v do not match configured labels %v", ckpt.Labels, p.labels)
	}
	ckpt.TrainedRows = res.Total
	if err := p.store.Save(ckpt); err != nil {
		return res, fmt.Errorf("publish checkpoint: %w", err)
	}
	if err := p.cursor.Save(res.Total); err != nil {
		return res, fmt.Errorf("advance cursor: %w", err)
	}

	res.Duration = time.Since(start)
	log.Info("remote checkpoint published",
		zap.String("artifact", path),
		zap.Int("last_row_trained", res.Total),
		zap.Duration("took", res.Duration))
	return res, nil
}
