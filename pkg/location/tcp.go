package location

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// TCPSource reads newline-delimited JSON fixes from a TCP provider.
// This is the transport RControlStation exposes its operator position on
// (port 65191 by default).
type TCPSource struct {
	addr   string
	retry  RetryConfig
	logger *logrus.Logger

	// dialTimeout bounds each connection attempt
	dialTimeout time.Duration
}

// NewTCPSource creates a source reading from addr ("host:port").
func NewTCPSource(addr string, logger *logrus.Logger) *TCPSource {
	return &TCPSource{
		addr:        addr,
		retry:       DefaultRetryConfig(),
		logger:      logger,
		dialTimeout: 5 * time.Second,
	}
}

// Run implements Source. Each dropped connection is re-dialed with backoff
// until the retry budget is spent.
func (s *TCPSource) Run(ctx context.Context, fn Handler) error {
	for {
		var conn net.Conn
		err := RetryWithBackoff(ctx, s.retry, func() error {
			d := net.Dialer{Timeout: s.dialTimeout}
			c, err := d.DialContext(ctx, "tcp", s.addr)
			if err != nil {
				s.logger.Warnf("location provider dial %s failed: %v", s.addr, err)
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			return fmt.Errorf("location provider unreachable: %w", err)
		}

		s.logger.Infof("connected to location provider at %s", s.addr)

		readErr := s.readLoop(ctx, conn, fn)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warnf("location provider connection lost: %v", readErr)
	}
}

// readLoop consumes fixes until the connection drops or ctx is cancelled.
func (s *TCPSource) readLoop(ctx context.Context, conn net.Conn, fn Handler) error {
	// Unblock the scanner when the context goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fix, err := DecodeFix(line)
		if err != nil {
			s.logger.Debugf("skipping malformed fix line: %v", err)
			continue
		}
		fn(fix)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("provider closed the connection")
}
