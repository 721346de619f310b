package motion

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client drives a FluidNC/GRBL-class controller over its TCP line protocol.
// Every planner command is acknowledged with "ok" or "error:N"; the realtime
// "?" query returns an angle-bracket status report instead.
type Client struct {
	address     string
	dialTimeout time.Duration
	idlePoll    time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
}

func NewClient(address string, dialTimeout, idlePoll time.Duration, logger *zap.Logger) *Client {
	if idlePoll <= 0 {
		idlePoll = 100 * time.Millisecond
	}
	return &Client{
		address:     address,
		dialTimeout: dialTimeout,
		idlePoll:    idlePoll,
		logger:      logger,
	}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.address, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true

	c.logger.Info("Stage controller connected", zap.String("address", c.address))
	return nil
}

func (c *Client) Close() error {
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
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// send writes one planner command and waits for its ok/error acknowledgement.
// Status reports arriving in between (auto-reports) are skipped.
func (c *Client) send(ctx context.Context, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	c.conn.SetWriteDeadline(deadline)

	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	for {
		resp, err := c.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		resp = strings.TrimSpace(resp)

		switch {
		case resp == "ok":
			return nil
		case strings.HasPrefix(resp, "error:"):
			return fmt.Errorf("controller rejected %q: %s", line, resp)
		case strings.HasPrefix(resp, "ALARM:"):
			return fmt.Errorf("controller alarm after %q: %s", line, resp)
		case strings.HasPrefix(resp, "<"):
			// Unsolicited status report, keep waiting for the ack.
			continue
		default:
			// Banner or informational line.
			continue
		}
	}
}

// queryStatus issues the realtime "?" poll and parses the report.
func (c *Client) queryStatus(ctx context.Context) (machineStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return machineStatus{}, fmt.Errorf("not connected")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	c.conn.SetWriteDeadline(deadline)

	if _, err := c.conn.Write([]byte("?")); err != nil {
		return machineStatus{}, fmt.Errorf("status write failed: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	for {
		resp, err := c.reader.ReadString('\n')
		if err != nil {
			return machineStatus{}, fmt.Errorf("status read failed: %w", err)
		}
		resp = strings.TrimSpace(resp)
		if strings.HasPrefix(resp, "<") {
			return parseStatus(resp)
		}
	}
}

// waitIdle blocks until the planner drains or the context expires.
func (c *Client) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(c.idlePoll)
	defer ticker.Stop()

	for {
		status, err := c.queryStatus(ctx)
		if err != nil {
			return err
		}
		if status.idle() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) move(ctx context.Context, op string, lines ...string) error {
	for _, line := range lines {
		if err := c.send(ctx, line); err != nil {
			return &Error{Op: op, Err: err}
		}
	}
	if err := c.waitIdle(ctx); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (c *Client) MoveAbsolute(ctx context.Context, pos Position, feed float64) error {
	return c.move(ctx, "move_absolute", gcodeAbsolute, gcodeLinearXYZ(pos, feed))
}

func (c *Client) MoveXY(ctx context.Context, x, y, feed float64) error {
	return c.move(ctx, "move_xy", gcodeAbsolute, gcodeLinearXY(x, y, feed))
}

func (c *Client) MoveZ(ctx context.Context, z, feed float64) error {
	return c.move(ctx, "move_z", gcodeAbsolute, gcodeLinearZ(z, feed))
}

func (c *Client) MoveRelative(ctx context.Context, dx, dy, dz, feed float64) error {
	lines := []string{gcodeRelative, gcodeLinearRelative(dx, dy, dz, feed), gcodeAbsolute}
	return c.move(ctx, "move_relative", lines...)
}

// RunMacro streams a macro line by line, then waits for the planner to drain.
func (c *Client) RunMacro(ctx context.Context, name string, lines []string) error {
	for _, line := range lines {
		if err := c.send(ctx, line); err != nil {
			return &Error{Op: "macro " + name, Err: err}
		}
	}
	if err := c.waitIdle(ctx); err != nil {
		return &Error{Op: "macro " + name, Err: err}
	}
	return nil
}

func (c *Client) Position(ctx context.Context) (Position, error) {
	status, err := c.queryStatus(ctx)
	if err != nil {
		return Position{}, &Error{Op: "position", Err: err}
	}
	if !status.HasPos {
		return Position{}, &Error{Op: "position", Err: fmt.Errorf("status report carried no MPos")}
	}
	return status.MPos, nil
}
