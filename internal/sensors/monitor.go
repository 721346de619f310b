package sensors

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reading is a cached sensor value with its acquisition time.
type Reading struct {
	At    time.Time
	Value float64
}

// Port exposes the latest cached sensor values. Calls never block; detector
// loops read these while motion is in flight.
type Port interface {
	LatestCurrent() Reading
	LatestVoltage() Reading
	LatestTemperature() Reading
}

// Source is the blocking hardware side the monitor polls on its own
// goroutine. Temperature may be unsupported; return ErrUnsupported then.
type Source interface {
	ReadCurrent(ctx context.Context) (float64, error)
	ReadVoltage(ctx context.Context) (float64, error)
	ReadTemperature(ctx context.Context) (float64, error)
}

// Monitor polls a Source at a fixed interval and caches the latest values.
type Monitor struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu          sync.Mutex
	running     bool
	current     Reading
	voltage     Reading
	temperature Reading
}

func NewMonitor(source Source, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Monitor{
		source:   source,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("Sensor monitor started", zap.Duration("interval", m.interval))
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Sensor monitor stopped")
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval/2)
	defer cancel()

	now := time.Now()

	if value, err := m.source.ReadCurrent(ctx); err != nil {
		m.logger.Warn("Current poll failed", zap.Error(err))
	} else {
		m.mu.Lock()
		m.current = Reading{At: now, Value: value}
		m.mu.Unlock()
	}

	if value, err := m.source.ReadVoltage(ctx); err != nil {
		m.logger.Warn("Voltage poll failed", zap.Error(err))
	} else {
		m.mu.Lock()
		m.voltage = Reading{At: now, Value: value}
		m.mu.Unlock()
	}

	if value, err := m.source.ReadTemperature(ctx); err == nil {
		m.mu.Lock()
		m.temperature = Reading{At: now, Value: value}
		m.mu.Unlock()
	}
}

func (m *Monitor) LatestCurrent() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Monitor) LatestVoltage() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voltage
}

func (m *Monitor) LatestTemperature() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temperature
}
