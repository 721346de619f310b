package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CSVSink appends samples to a per-run CSV file. Write failures are logged
// and dropped; telemetry must never stall the workflow.
type CSVSink struct {
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

func NewCSVSink(dir, runID string, logger *zap.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry dir: %w", err)
	}

	path := filepath.Join(dir, runID+".csv")
	exists := false
	if _, err := os.Stat(path); err == nil {
		exists = true
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}

	sink := &CSVSink{
		logger: logger,
		file:   file,
		writer: csv.NewWriter(file),
	}

	if !exists {
		header := []string{"timestamp", "voltage", "current", "temperature", "x", "y", "z"}
		if err := sink.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write telemetry header: %w", err)
		}
		sink.writer.Flush()
	}

	return sink, nil
}

func (s *CSVSink) Append(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return
	}

	record := []string{
		sample.At.Format(time.RFC3339Nano),
		formatFloat(sample.Voltage),
		formatFloat(sample.Current),
		formatFloat(sample.Temperature),
		formatFloat(sample.Position.X),
		formatFloat(sample.Position.Y),
		formatFloat(sample.Position.Z),
	}
	if err := s.writer.Write(record); err != nil {
		s.logger.Warn("Telemetry CSV write failed", zap.Error(err))
		return
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.logger.Warn("Telemetry CSV flush failed", zap.Error(err))
	}
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
