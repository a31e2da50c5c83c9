package processor

import (
	"context"
	"fmt"

	"storefront/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// OrphanSweeper повторно удаляет изображения из очереди
type OrphanSweeper interface {
	RetryOrphans(ctx context.Context, limit int) (int, error)
}

// CronScheduler по расписанию удаляет осиротевшие изображения.
// Запуск, который еще не завершился, не перекрывается следующим
type CronScheduler struct {
	cron    *cron.Cron
	sweeper OrphanSweeper
	batch   int
	log     zerolog.Logger
}

func NewCronScheduler(sweeper OrphanSweeper, batch int) *CronScheduler {
	log := logger.Component("orphan-sweeper")
	cl := cronLogger{log: log}

	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &CronScheduler{
		cron:    c,
		sweeper: sweeper,
		batch:   batch,
		log:     log,
	}
}

func (s *CronScheduler) Start(ctx context.Context, schedule string) error {
	s.log.Info().Str("schedule", schedule).Int("batch", s.batch).Msg("Starting cron scheduler")

	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid orphan sweep schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.log.Info().Msg("Cron scheduler started")
	return nil
}

// Sweep выполняет один проход по очереди
func (s *CronScheduler) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	destroyed, err := s.sweeper.RetryOrphans(ctx, s.batch)
	if err != nil {
		s.log.Error().Err(err).Int("destroyed", destroyed).Msg("Orphan sweep failed")
		return
	}
	if destroyed > 0 {
		s.log.Info().Int("destroyed", destroyed).Msg("Orphan sweep completed")
	}
}

func (s *CronScheduler) Stop() {
	s.log.Info().Msg("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Cron scheduler stopped")
}

func (s *CronScheduler) GetEntries() []cron.Entry {
	return s.cron.Entries()
}

// cronLogger направляет логи cron в zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
