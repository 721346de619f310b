package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/telemetry"
)

// TelemetrySink buffers process samples and writes them to Postgres on its
// own goroutine. Append never blocks; when the buffer is full samples are
// dropped and counted.
type TelemetrySink struct {
	client *PostgresClient
	logger *zap.Logger

	samples chan telemetry.Sample
	stop    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

func NewTelemetrySink(client *PostgresClient, logger *zap.Logger) *TelemetrySink {
	return &TelemetrySink{
		client:  client,
		logger:  logger,
		samples: make(chan telemetry.Sample, 1024),
		stop:    make(chan struct{}),
	}
}

func (s *TelemetrySink) Start() {
	s.wg.Add(1)
	go s.writeLoop()
}

func (s *TelemetrySink) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *TelemetrySink) Append(sample telemetry.Sample) {
	select {
	case s.samples <- sample:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped returns the number of samples discarded because the writer could
// not keep up.
func (s *TelemetrySink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *TelemetrySink) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case sample := <-s.samples:
					s.write(sample)
				default:
					return
				}
			}
		case sample := <-s.samples:
			s.write(sample)
		}
	}
}

func (s *TelemetrySink) write(sample telemetry.Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.client.pool.Exec(ctx, `
		INSERT INTO telemetry (at, voltage, current, temperature, x, y, z)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sample.At, sample.Voltage, sample.Current, sample.Temperature,
		sample.Position.X, sample.Position.Y, sample.Position.Z)
	if err != nil {
		s.logger.Warn("Telemetry insert failed", zap.Error(err))
	}
}
