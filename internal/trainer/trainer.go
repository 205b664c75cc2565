package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmail/internal/config"
	"jobmail/internal/dataset"
	"jobmail/internal/device"
	"jobmail/internal/metrics"
	"jobmail/internal/model"
)

var ErrNoDataset = errors.New("no labelled records to train on")

// Source supplies the labelled dataset in store order.
type Source interface {
	Labeled(ctx context.Context) (dataset.Labeled, error)
}

// Cursor persists lastRowTrained.
type Cursor interface {
	Load() int
	Save(lastRowTrained int) error
}

// Store reads and atomically publishes the checkpoint.
type Store interface {
	Load() (*model.Checkpoint, error)
	Save(c *model.Checkpoint) error
}

type Options struct {
	Labels []string

	AnchorSize  int
	AnchorSeed  int64
	ShuffleSeed int64

	LearningRate float64
	WeightDecay  float64

	SmallBatchThreshold int
	SmallBatchEpochs    int
	LargeBatchEpochs    int
	CPUBatchSize        int
	AccelBatchSize      int

	MaxTokens int
	MaxVocab  int

	// Cold start without a base artifact builds this shape.
	Shape         model.Shape
	ModelSeed     int64
	BaseModelPath string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Labels:              append([]string(nil), cfg.Labels...),
		AnchorSize:          cfg.AnchorSize,
		AnchorSeed:          cfg.AnchorSeed,
		ShuffleSeed:         cfg.ShuffleSeed,
		LearningRate:        cfg.LearningRate,
		WeightDecay:         cfg.WeightDecay,
		SmallBatchThreshold: cfg.SmallBatchThreshold,
		SmallBatchEpochs:    cfg.SmallBatchEpochs,
		LargeBatchEpochs:    cfg.LargeBatchEpochs,
		CPUBatchSize:        cfg.CPUBatchSize,
		AccelBatchSize:      cfg.AccelBatchSize,
		MaxTokens:           cfg.MaxTokens,
		MaxVocab:            cfg.MaxVocab,
		Shape: model.Shape{
			Embd:   cfg.ModelEmbd,
			Heads:  cfg.ModelHeads,
			Layers: cfg.ModelLayers,
			MaxLen: cfg.MaxTokens,
		},
		ModelSeed:     cfg.ModelSeed,
		BaseModelPath: cfg.BaseModelPath,
	}
}

// Plan is the batch one run trains on.
type Plan struct {
	Total   int
	Cursor  int
	Delta   dataset.Labeled
	Anchors dataset.Labeled
	// Batch is Delta and Anchors combined and shuffled.
	Batch dataset.Labeled
}

// PlanBatch takes the unseen slice [cursor, total) and, when history
// exists, min(cursor, anchorSize) anchors drawn without replacement from
// [0, cursor) using anchorSeed. The combined batch is shuffled with
// shuffleSeed.
func PlanBatch(data dataset.Labeled, cursor, anchorSize int, anchorSeed, shuffleSeed int64) Plan {
	p := Plan{Total: data.Len(), Cursor: cursor}
	p.Delta = data.Delta(cursor)
	if len(p.Delta) == 0 {
		return p
	}

	history := data.History(cursor)
	if k := min(len(history), anchorSize); k > 0 {
		idx := rand.New(rand.NewSource(anchorSeed)).Perm(len(history))[:k]
		p.Anchors = make(dataset.Labeled, k)
		for i, j := range idx {
			p.Anchors[i] = history[j]
		}
	}

	combined := make(dataset.Labeled, 0, len(p.Delta)+len(p.Anchors))
	combined = append(combined, p.Delta...)
	combined = append(combined, p.Anchors...)
	rand.New(rand.NewSource(shuffleSeed)).Shuffle(len(combined), func(i, j int) {
		combined[i], combined[j] = combined[j], combined[i]
	})
	p.Batch = combined
	return p
}

// Schedule returns epochs and per-step batch size for n training rows.
func Schedule(n int, dev device.Device, opts Options) (epochs, batchSize int) {
	epochs = opts.LargeBatchEpochs
	if n < opts.SmallBatchThreshold {
		epochs = opts.SmallBatchEpochs
	}
	return epochs, dev.BatchSize(opts.CPUBatchSize, opts.AccelBatchSize)
}

// Result describes one Run.
type Result struct {
	RunID     string
	Skipped   bool
	Warm      bool
	Total     int
	Cursor    int
	Delta     int
	Anchors   int
	Batch     int
	Epochs    int
	BatchSize int
	Steps     int
	FinalLoss float64
	Duration  time.Duration
}

// Trainer runs delta updates. At most one Run may be active against the
// same cursor and store.
type Trainer struct {
	opts   Options
	source Source
	cursor Cursor
	store  Store
	dev    device.Device
	logger *zap.Logger
}

func New(opts Options, source Source, cursor Cursor, store Store, dev device.Device, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{opts: opts, source: source, cursor: cursor, store: store, dev: dev, logger: logger}
}

// Run trains on records appended since the last successful run. On any
// error the cursor is left where it was.
func (t *Trainer) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res.RunID = uuid.NewString()
	log := t.logger.With(zap.String("run_id", res.RunID))
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

	data, err := t.source.Labeled(ctx)
	if err != nil {
		return res, fmt.Errorf("load dataset: %w", err)
	}
	if data.Len() == 0 {
		return res, ErrNoDataset
	}

	cursor := t.cursor.Load()
	res.Total, res.Cursor = data.Len(), cursor
	if res.Total <= cursor {
		if res.Total < cursor {
			log.Warn("training cursor ahead of dataset, leaving it untouched",
				zap.Int("cursor", cursor), zap.Int("total", res.Total))
		}
		log.Info("no new records since last training", zap.Int("total", res.Total))
		res.Skipped = true
		return res, nil
	}

	plan := PlanBatch(data, cursor, t.opts.AnchorSize, t.opts.AnchorSeed, t.opts.ShuffleSeed)
	res.Delta, res.Anchors, res.Batch = len(plan.Delta), len(plan.Anchors), len(plan.Batch)
	log.Info("delta batch planned",
		zap.Int("total", res.Total),
		zap.Int("cursor", cursor),
		zap.Int("delta", res.Delta),
		zap.Int("anchors", res.Anchors))

	ckpt, warm, err := t.startingPoint()
	if err != nil {
		return res, err
	}
	res.Warm = warm

	res.Epochs, res.BatchSize = Schedule(len(plan.Batch), t.dev, t.opts)
	res.Steps, res.FinalLoss, err = t.fit(ctx, ckpt, plan.Batch, res.Epochs, res.BatchSize, log)
	if err != nil {
		return res, fmt.Errorf("train: %w", err)
	}

	ckpt.TrainedRows = res.Total
	if err := t.store.Save(ckpt); err != nil {
		return res, fmt.Errorf("publish checkpoint: %w", err)
	}
	if err := t.cursor.Save(res.Total); err != nil {
		return res, fmt.Errorf("advance cursor: %w", err)
	}

	res.Duration = time.Since(start)
	log.Info("delta training complete",
		zap.Bool("warm_start", res.Warm),
		zap.Int("last_row_trained", res.Total),
		zap.Int("steps", res.Steps),
		zap.Float64("final_loss", res.FinalLoss),
		zap.Duration("took", res.Duration))
	return res, nil
}

// startingPoint loads the current checkpoint, or the base artifact when
// none has been published yet.
func (t *Trainer) startingPoint() (*model.Checkpoint, bool, error) {
	ckpt, err := t.store.Load()
	switch {
	case err == nil:
		if !sameLabels(ckpt.Labels, t.opts.Labels) {
			return nil, false, fmt.Errorf("checkpoint labels %v do not match configured labels %v", ckpt.Labels, t.opts.Labels)
		}
		t.logger.Info("warm start from checkpoint", zap.Int("trained_rows", ckpt.TrainedRows))
		return ckpt, true, nil
	case errors.Is(err, model.ErrCheckpointNotFound):
	default:
		return nil, false, fmt.Errorf("load checkpoint: %w", err)
	}

	if t.opts.BaseModelPath != "" {
		base, err := model.LoadFile(t.opts.BaseModelPath)
		if err != nil {
			return nil, false, fmt.Errorf("load base artifact: %w", err)
		}
		if !sameLabels(base.Labels, t.opts.Labels) {
			base.Encoder.ResetHead(len(t.opts.Labels), t.opts.ModelSeed)
			base.Labels = append([]string(nil), t.opts.Labels...)
		}
		base.TrainedRows = 0
		t.logger.Info("cold start from base artifact", zap.String("path", t.opts.BaseModelPath))
		return base, false, nil
	}

	tok := model.NewTokenizer()
	enc, err := model.NewEncoder(t.opts.Shape, tok.Size(), len(t.opts.Labels), t.opts.ModelSeed)
	if err != nil {
		return nil, false, fmt.Errorf("init encoder: %w", err)
	}
	t.logger.Info("cold start from seeded initialisation", zap.Int64("seed", t.opts.ModelSeed))
	return &model.Checkpoint{Encoder: enc, Tokenizer: tok, Labels: append([]string(nil), t.opts.Labels...)}, false, nil
}

func (t *Trainer) fit(ctx context.Context, ckpt *model.Checkpoint, batch dataset.Labeled, epochs, batchSize int, log *zap.Logger) (int, float64, error) {
	if added := ckpt.Tokenizer.Extend(batch.Texts(), t.opts.MaxVocab); added > 0 {
		ckpt.Encoder.GrowVocab(ckpt.Tokenizer.Size(), t.opts.ModelSeed)
		log.Debug("vocabulary extended", zap.Int("added", added), zap.Int("size", ckpt.Tokenizer.Size()))
	}

	maxLen := min(t.opts.MaxTokens, ckpt.Encoder.Shape.MaxLen)
	seqs := make([][]int, len(batch))
	for i, ex := range batch {
		seqs[i] = ckpt.Tokenizer.Encode(ex.Text, maxLen)
	}

	params := ckpt.Encoder.Params()
	opt := model.NewAdamW(params, t.opts.WeightDecay)
	stepsPerEpoch := (len(batch) + batchSize - 1) / batchSize
	totalSteps := epochs * stepsPerEpoch

	step := 0
	var last float64
	for epoch := 0; epoch < epochs; epoch++ {
		order := rand.New(rand.NewSource(t.opts.ShuffleSeed + int64(epoch) + 1)).Perm(len(batch))
		epochLoss := 0.0
		for lo := 0; lo < len(order); lo += batchSize {
			if err := ctx.Err(); err != nil {
				return step, last, err
			}
			hi := min(lo+batchSize, len(order))
			losses := make([]*model.Scalar, 0, hi-lo)
			for _, i := range order[lo:hi] {
				l, err := ckpt.Encoder.Loss(seqs[i], batch[i].Target)
				if err != nil {
					return step, last, fmt.Errorf("row seq=%d: %w", batch[i].Seq, err)
				}
				losses = append(losses, l)
			}
			loss := model.Mean(losses)
			model.Backward(loss)
			lr := t.opts.LearningRate * (1 - float64(step)/float64(totalSteps))
			opt.Step(params, lr)

			step++
			last = loss.Data
			epochLoss += loss.Data
		}
		log.Info("epoch done",
			zap.Int("epoch", epoch+1),
			zap.Int("epochs", epochs),
			zap.Float64("mean_loss", epochLoss/float64(stepsPerEpoch)))
	}
	return step, last, nil
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
