// Package app wires the configured components for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobmail/internal/analytics"
	"jobmail/internal/classifier"
	"jobmail/internal/collector"
	"jobmail/internal/config"
	"jobmail/internal/device"
	"jobmail/internal/llm"
	"jobmail/internal/mailbox"
	"jobmail/internal/model"
	"jobmail/internal/pipeline"
	"jobmail/internal/records"
	"jobmail/internal/remote"
	"jobmail/internal/report"
	"jobmail/internal/state"
	"jobmail/internal/storage"
	"jobmail/internal/telegram"
	"jobmail/internal/textclean"
	"jobmail/internal/trainer"
)

// Modes accepted by Run.
const (
	ModeClassify = "classify"
	ModeLocal    = "local"
	ModeRemote   = "remote"
	ModeSync     = "sync"
)

// Metrics sources.
const (
	SourceVerdicts = "verdicts"
	SourceRecords  = "records"
)

var ErrUnknownMode = errors.New("unknown mode")

type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	dev      device.Device
	records  *records.Store
	verdicts *storage.FileRecorder
	engines  *classifier.Holder

	connect func(ctx context.Context) (mailbox.Mailbox, error)
	mu      sync.Mutex
	mail    mailbox.Mailbox
}

// New opens the record store and the verdict log. The mailbox is connected
// on first use.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dev, err := device.Detect(cfg.ComputeDevice, device.Probe{}, logger)
	if err != nil {
		return nil, err
	}
	connect := func(ctx context.Context) (mailbox.Mailbox, error) {
		return mailbox.Connect(ctx, cfg.GmailCredentialsJSON, cfg.GmailCredentialsJSONPath, cfg.GmailTokenPath, cfg.GmailRefreshToken, logger)
	}
	return newApp(cfg, logger, dev, connect)
}

func newApp(cfg *config.Config, logger *zap.Logger, dev device.Device, connect func(context.Context) (mailbox.Mailbox, error)) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := records.Open(cfg.DBPath, cfg.Labels, textclean.MinTrainingLen, logger)
	if err != nil {
		return nil, err
	}
	verdicts, err := storage.NewFileRecorder(cfg.VerdictLogPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		dev:      dev,
		records:  store,
		verdicts: verdicts,
		engines:  classifier.NewHolder(cfg.ModelDir, classifier.OptionsFromConfig(cfg)),
		connect:  connect,
	}, nil
}

func (a *App) Close() error { return a.records.Close() }

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Device() device.Device { return a.dev }
func (a *App) Engines() *classifier.Holder { return a.engines }
func (a *App) Verdicts() storage.Recorder { return a.verdicts }

func (a *App) mailClient(ctx context.Context) (mailbox.Mailbox, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mail != nil {
		return a.mail, nil
	}
	m, err := a.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect mailbox: %w", err)
	}
	a.mail = m
	return m, nil
}

// Sync appends newly labelled mail to the record store.
func (a *App) Sync(ctx context.Context) (collector.Result, error) {
	mail, err := a.mailClient(ctx)
	if err != nil {
		return collector.Result{}, err
	}
	cursor := state.NewSyncTracker(a.cfg.SyncStatePath, a.logger)
	return collector.New(mail, a.records, cursor, a.cfg.Labels, a.logger).Sync(ctx)
}

// Train runs one local delta update and reloads the serving engine.
func (a *App) Train(ctx context.Context) (trainer.Result, error) {
	t := trainer.New(
		trainer.OptionsFromConfig(a.cfg),
		a.records,
		state.NewTracker(a.cfg.StatePath, a.logger),
		model.DirStore{Dir: a.cfg.ModelDir},
		a.dev,
		a.logger,
	)
	res, err := t.Run(ctx)
	if err == nil && !res.Skipped {
		a.reload()
	}
	return res, err
}

// RemoteTrain runs the delta update through the configured remote build.
func (a *App) RemoteTrain(ctx context.Context) (remote.Result, error) {
	builder, err := remote.FromConfig(a.cfg, a.logger)
	if err != nil {
		return remote.Result{}, err
	}
	p := remote.NewPublisher(
		builder,
		a.records,
		state.NewTracker(a.cfg.StatePath, a.logger),
		model.DirStore{Dir: a.cfg.ModelDir},
		a.cfg.Labels,
		a.logger,
	)
	res, err := p.Run(ctx)
	if err == nil && !res.Skipped {
		a.reload()
	}
	return res, err
}

func (a *App) reload() {
	if _, err := a.engines.Reload(); err != nil {
		a.logger.Warn("failed to reload classifier", zap.Error(err))
	}
}

// Classify labels unread mail from the lookback window.
func (a *App) Classify(ctx context.Context) (*pipeline.Report, error) {
	engine, err := a.engines.Engine()
	if err != nil {
		return nil, err
	}
	mail, err := a.mailClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := pipeline.Options{
		Query:      mailbox.UnreadSince(time.Now(), a.cfg.ClassifyLookbackDays),
		MaxResults: a.cfg.ClassifyMaxResults,
		DryRun:     a.cfg.DryRun,
		Labels:     a.cfg.AllLabels(),
	}
	return pipeline.New(mail, engine, a.verdicts, opts, a.logger).Run(ctx)
}

// Metrics writes (date, label, count) rows to METRICS_CSV_PATH.
func (a *App) Metrics(ctx context.Context, source string) ([]analytics.Row, error) {
	var rows []analytics.Row
	switch source {
	case SourceVerdicts:
		events, err := a.verdicts.Load()
		if err != nil {
			return nil, err
		}
		rows = analytics.DailyCounts(events, time.UTC)
	case SourceRecords:
		recs, err := a.records.All(ctx)
		if err != nil {
			return nil, err
		}
		rows = analytics.RecordCounts(recs, time.UTC)
	default:
		return nil, fmt.Errorf("unknown metrics source %q", source)
	}
	if err := analytics.WriteCSV(a.cfg.MetricsCSVPath, rows); err != nil {
		return nil, err
	}
	a.logger.Info("metrics written", zap.String("path", a.cfg.MetricsCSVPath), zap.Int("rows", len(rows)))
	return rows, nil
}

// Explain classifies one text without touching the mailbox or the log.
func (a *App) Explain(subject, text string) (classifier.Verdict, error) {
	engine, err := a.engines.Engine()
	if err != nil {
		return classifier.Verdict{}, err
	}
	return engine.Classify("", textclean.ClassificationText(subject, text))
}

// Reporter builds the daily report sender. The LLM is optional.
func (a *App) Reporter() (*report.Reporter, error) {
	notifier, err := telegram.New(a.cfg.TelegramBotToken, a.cfg.AdminChatID, a.logger)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewFromConfig(a.cfg)
	if err != nil {
		a.logger.Info("daily report without llm", zap.Error(err))
	}
	return report.New(a.verdicts, client, notifier, a.cfg.UncertainLabel, a.logger), nil
}

// Run executes one pipeline mode:
//
//	classify  classify, metrics
//	local     sync, train, classify, metrics
//	remote    sync, remote train, classify, metrics
//	sync      sync
func (a *App) Run(ctx context.Context, mode string) error {
	switch mode {
	case ModeClassify, ModeLocal, ModeRemote, ModeSync:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	log := a.logger.With(zap.String("mode", mode))

	if mode != ModeClassify {
		log.Info("phase: sync")
		if _, err := a.Sync(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		if mode == ModeSync {
			return nil
		}
	}

	switch mode {
	case ModeLocal:
		log.Info("phase: train")
		if _, err := a.Train(ctx); err != nil && !errors.Is(err, trainer.ErrNoDataset) {
			return fmt.Errorf("train: %w", err)
		}
	case ModeRemote:
		log.Info("phase: remote train")
		if _, err := a.RemoteTrain(ctx); err != nil && !errors.Is(err, trainer.ErrNoDataset) {
			return fmt.Errorf("remote train: %w", err)
		}
	}

	log.Info("phase: classify")
	rep, err := a.Classify(ctx)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	log.Info("classification finished", zap.Int("found", rep.Found), zap.Int("failed", rep.Failed))

	log.Info("phase: metrics")
	if _, err := a.Metrics(ctx, SourceVerdicts); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
