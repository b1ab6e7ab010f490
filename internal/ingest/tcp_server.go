// Package ingest provides the observation ingestion servers. The proxy
// adapter ships one JSON observation per line over TCP, or one per
// datagram over DTLS for deployments where the adapter runs on another
// host.
package ingest

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"loginwatch/internal/event"
)

// Dispatcher consumes validated observations. The correlator implements
// it.
type Dispatcher interface {
	Observe(ctx context.Context, obs event.Observation) error
}

// TCPServerConfig holds configuration for the TCP server.
type TCPServerConfig struct {
	Address        string
	MaxConnections int
	IdleTimeout    time.Duration
	MaxLineLength  int
	TLSEnabled     bool
	TLSCertFile    string
	TLSKeyFile     string
}

// DefaultTCPServerConfig returns the default TCP server configuration.
func DefaultTCPServerConfig() TCPServerConfig {
	return TCPServerConfig{
		Address:        "127.0.0.1:8080",
		MaxConnections: 64,
		IdleTimeout:    5 * time.Minute,
		MaxLineLength:  64 * 1024,
		TLSEnabled:     false,
	}
}

// TCPServerMetrics holds metrics for the TCP server.
type TCPServerMetrics struct {
	Connections uint64 `json:"connections"`
	Received    uint64 `json:"received"`
	Dispatched  uint64 `json:"dispatched"`
	Errors      uint64 `json:"errors"`
}

// TCPServer receives newline-delimited JSON observations over TCP.
type TCPServer struct {
	config     TCPServerConfig
	listener   net.Listener
	validator  *event.Validator
	dispatcher Dispatcher

	connCount int32
	wg        sync.WaitGroup
	done      chan struct{}

	// Metrics
	connections uint64
	received    uint64
	dispatched  uint64
	errors      uint64
}

// NewTCPServer creates a new TCP server for observation ingestion.
func NewTCPServer(cfg TCPServerConfig, validator *event.Validator, dispatcher Dispatcher) *TCPServer {
	return &TCPServer{
		config:     cfg,
		validator:  validator,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}
}

// Start starts the TCP server.
func (s *TCPServer) Start(ctx context.Context) error {
	var listener net.Listener
	var err error

	if s.config.TLSEnabled {
		cert, certErr := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if certErr != nil {
			return certErr
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}

		listener, err = tls.Listen("tcp", s.config.Address, tlsConfig)
	} else {
		listener, err = net.Listen("tcp", s.config.Address)
	}
	if err != nil {
		return err
	}

	s.listener = listener

	slog.Info("observation TCP server started",
		"address", listener.Addr(),
		"tls", s.config.TLSEnabled,
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

// Addr returns the bound listener address, usable once Start returned.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		// Accept deadline allows periodic context checks.
		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				slog.Debug("TCP accept error", "error", err)
				continue
			}
		}

		if atomic.LoadInt32(&s.connCount) >= int32(s.config.MaxConnections) {
			slog.Warn("max connections reached, rejecting", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		atomic.AddInt32(&s.connCount, 1)
		atomic.AddUint64(&s.connections, 1)

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer atomic.AddInt32(&s.connCount, -1)
	defer conn.Close()

	connID := uuid.NewString()
	slog.Debug("new observation connection", "conn_id", connID, "remote", conn.RemoteAddr())

	reader := bufio.NewReaderSize(conn, s.config.MaxLineLength)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return // Idle timeout
			}
			slog.Debug("TCP read error", "conn_id", connID, "error", err)
			return
		}

		atomic.AddUint64(&s.received, 1)

		s.processLine(ctx, line, connID)
	}
}

func (s *TCPServer) processLine(ctx context.Context, line []byte, connID string) {
	var obs event.Observation
	if err := json.Unmarshal(line, &obs); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("observation decode error", "conn_id", connID, "error", err)
		return
	}

	if err := s.validator.Validate(&obs); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("observation validation error", "conn_id", connID, "error", err)
		return
	}

	if err := s.dispatcher.Observe(ctx, obs); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Error("observation dispatch failed", "conn_id", connID, "error", err)
		return
	}

	atomic.AddUint64(&s.dispatched, 1)
}

// Stop stops the TCP server gracefully.
func (s *TCPServer) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	slog.Info("observation TCP server stopped",
		"connections", atomic.LoadUint64(&s.connections),
		"received", atomic.LoadUint64(&s.received),
		"dispatched", atomic.LoadUint64(&s.dispatched),
		"errors", atomic.LoadUint64(&s.errors),
	)
}

// Metrics returns the current server metrics.
func (s *TCPServer) Metrics() TCPServerMetrics {
	return TCPServerMetrics{
		Connections: atomic.LoadUint64(&s.connections),
		Received:    atomic.LoadUint64(&s.received),
		Dispatched:  atomic.LoadUint64(&s.dispatched),
		Errors:      atomic.LoadUint64(&s.errors),
	}
}

// ActiveConnections returns the number of currently active connections.
func (s *TCPServer) ActiveConnections() int {
	return int(atomic.LoadInt32(&s.connCount))
}
