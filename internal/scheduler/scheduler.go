package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job задача, запускаемая по расписанию
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler управляет запланированными задачами. Задачи выполняются
// строго по одной: обучение и классификация не пересекаются на одном
// чекпоинте.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu      sync.Mutex // сериализует задачи
	jobs    []Job
	running bool
}

// New создает новый планировщик
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Add регистрирует задачу. Пустое расписание отключает задачу.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s: no function", job.Name)
	}
	if job.Spec == "" {
		s.logger.Info("job disabled", zap.String("job", job.Name))
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.RunNow(job) }); err != nil {
		return fmt.Errorf("job %s: bad schedule %q: %w", job.Name, job.Spec, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// RunNow выполняет задачу сразу, дождавшись окончания текущей.
func (s *Scheduler) RunNow(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return err
	}
	log := s.logger.With(zap.String("job", job.Name))
	log.Info("job started")
	start := time.Now()
	err := job.Run(s.ctx)
	switch {
	case err == nil:
		log.Info("job finished", zap.Duration("took", time.Since(start)))
	case errors.Is(err, context.Canceled):
		log.Warn("job cancelled")
	default:
		log.Error("job failed", zap.Duration("took", time.Since(start)), zap.Error(err))
	}
	return err
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.cron.Start()
	s.running = true
	for _, j := range s.jobs {
		s.logger.Info("job scheduled", zap.String("job", j.Name), zap.String("spec", j.Spec))
	}
}

// Stop останавливает планировщик и ждёт завершения текущей задачи
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.running = false
	s.logger.Info("scheduler stopped")
}

// IsRunning проверяет, запущен ли планировщик
func (s *Scheduler) IsRunning() bool {
	return s.running && len(s.cron.Entries()) > 0
}

// Jobs возвращает зарегистрированные задачи
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}
