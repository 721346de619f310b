package instrument

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Port controls the electropolishing power source.
type Port interface {
	SetVoltage(ctx context.Context, volts float64) error
	SetCurrentLimit(ctx context.Context, amps float64) error
	Enable(ctx context.Context, on bool) error
	MeasureVoltage(ctx context.Context) (float64, error)
	MeasureCurrent(ctx context.Context) (float64, error)
}

// Error marks a power-source fault so the workflow can disable the output
// before failing the job.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("instrument %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SCPIClient talks to a LAN-connected SCPI power supply.
type SCPIClient struct {
	address string
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
}

func NewSCPIClient(address string, timeout time.Duration, logger *zap.Logger) *SCPIClient {
	return &SCPIClient{
		address: address,
		timeout: timeout,
		logger:  logger,
	}
}

func (c *SCPIClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.address, c.timeout)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true

	c.logger.Info("Power source connected", zap.String("address", c.address))
	return nil
}

func (c *SCPIClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.connected = false

	return err
}

// Connected reports whether the TCP link is up.
func (c *SCPIClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *SCPIClient) write(ctx context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(ctx, command)
}

func (c *SCPIClient) writeLocked(ctx context.Context, command string) error {
	if !c.connected {
		return fmt.Errorf("not connected")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	c.conn.SetWriteDeadline(deadline)

	if _, err := c.conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (c *SCPIClient) query(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(ctx, command); err != nil {
		return "", err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	c.conn.SetReadDeadline(deadline)

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *SCPIClient) Identify(ctx context.Context) (string, error) {
	idn, err := c.query(ctx, "*IDN?")
	if err != nil {
		return "", &Error{Op: "identify", Err: err}
	}
	return idn, nil
}

func (c *SCPIClient) SetVoltage(ctx context.Context, volts float64) error {
	if err := c.write(ctx, fmt.Sprintf("VOLT %.6f", volts)); err != nil {
		return &Error{Op: "set_voltage", Err: err}
	}
	return nil
}

func (c *SCPIClient) SetCurrentLimit(ctx context.Context, amps float64) error {
	if err := c.write(ctx, fmt.Sprintf("CURR %.6f", amps)); err != nil {
		return &Error{Op: "set_current_limit", Err: err}
	}
	return nil
}

func (c *SCPIClient) Enable(ctx context.Context, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	if err := c.write(ctx, "OUTP "+state); err != nil {
		return &Error{Op: "enable", Err: err}
	}
	return nil
}

func (c *SCPIClient) MeasureVoltage(ctx context.Context) (float64, error) {
	return c.measure(ctx, "MEAS:VOLT?", "measure_voltage")
}

func (c *SCPIClient) MeasureCurrent(ctx context.Context) (float64, error) {
	return c.measure(ctx, "MEAS:CURR?", "measure_current")
}

func (c *SCPIClient) measure(ctx context.Context, command, op string) (float64, error) {
	resp, err := c.query(ctx, command)
	if err != nil {
		return 0, &Error{Op: op, Err: err}
	}
	value, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &Error{Op: op, Err: fmt.Errorf("unparseable response %q: %w", resp, err)}
	}
	return value, nil
}
