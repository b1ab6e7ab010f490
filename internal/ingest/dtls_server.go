package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"

	"loginwatch/internal/event"
)

// ErrDTLSCertRequired is returned when the DTLS server is configured
// without a certificate pair.
var ErrDTLSCertRequired = errors.New("DTLS requires certificate and key")

// DTLSServerConfig holds configuration for the DTLS server.
type DTLSServerConfig struct {
	Address           string
	CertFile          string
	KeyFile           string
	MaxMessageSize    int
	ConnectionTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultDTLSServerConfig returns the default DTLS server
// configuration.
func DefaultDTLSServerConfig() DTLSServerConfig {
	return DTLSServerConfig{
		Address:           "127.0.0.1:8082",
		MaxMessageSize:    64 * 1024,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
}

// DTLSServerMetrics holds metrics for the DTLS server.
type DTLSServerMetrics struct {
	Connections   uint64 `json:"connections"`
	HandshakeErrs uint64 `json:"handshake_errors"`
	Received      uint64 `json:"received"`
	Dispatched    uint64 `json:"dispatched"`
	Errors        uint64 `json:"errors"`
}

// DTLSServer receives JSON observations over DTLS, one per datagram.
// It exists for deployments where the proxy adapter runs on a different
// host than the correlator.
type DTLSServer struct {
	config     DTLSServerConfig
	listener   net.Listener
	validator  *event.Validator
	dispatcher Dispatcher

	wg   sync.WaitGroup
	done chan struct{}

	// Metrics
	connections   uint64
	handshakeErrs uint64
	received      uint64
	dispatched    uint64
	errors        uint64
}

// NewDTLSServer creates a new DTLS server for observation ingestion.
func NewDTLSServer(cfg DTLSServerConfig, validator *event.Validator, dispatcher Dispatcher) (*DTLSServer, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, ErrDTLSCertRequired
	}

	return &DTLSServer{
		config:     cfg,
		validator:  validator,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}, nil
}

// Start starts the DTLS server.
func (s *DTLSServer) Start(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load DTLS certificate: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, s.config.ConnectionTimeout)
		},
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	listener, err := dtls.Listen("udp", addr, dtlsConfig)
	if err != nil {
		return fmt.Errorf("failed to start DTLS listener: %w", err)
	}

	s.listener = listener

	slog.Info("observation DTLS server started", "address", s.config.Address)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

func (s *DTLSServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(100 * time.Millisecond))
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
				slog.Debug("DTLS accept error", "error", err)
				atomic.AddUint64(&s.handshakeErrs, 1)
				continue
			}
		}

		atomic.AddUint64(&s.connections, 1)

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *DTLSServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	slog.Debug("new DTLS observation connection", "remote", conn.RemoteAddr())

	buffer := make([]byte, s.config.MaxMessageSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		n, err := conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			slog.Debug("DTLS read error", "error", err)
			return
		}

		atomic.AddUint64(&s.received, 1)

		s.processDatagram(ctx, buffer[:n])
	}
}

func (s *DTLSServer) processDatagram(ctx context.Context, data []byte) {
	var obs event.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("observation decode error", "error", err)
		return
	}

	if err := s.validator.Validate(&obs); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("observation validation error", "error", err)
		return
	}

	if err := s.dispatcher.Observe(ctx, obs); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Error("observation dispatch failed", "error", err)
		return
	}

	atomic.AddUint64(&s.dispatched, 1)
}

// Stop stops the DTLS server gracefully.
func (s *DTLSServer) Stop() {
	close(s.done)

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()

	slog.Info("observation DTLS server stopped",
		"connections", atomic.LoadUint64(&s.connections),
		"handshake_errors", atomic.LoadUint64(&s.handshakeErrs),
		"received", atomic.LoadUint64(&s.received),
		"dispatched", atomic.LoadUint64(&s.dispatched),
		"errors", atomic.LoadUint64(&s.errors),
	)
}

// Metrics returns the current server metrics.
func (s *DTLSServer) Metrics() DTLSServerMetrics {
	return DTLSServerMetrics{
		Connections:   atomic.LoadUint64(&s.connections),
		HandshakeErrs: atomic.LoadUint64(&s.handshakeErrs),
		Received:      atomic.LoadUint64(&s.received),
		Dispatched:    atomic.LoadUint64(&s.dispatched),
		Errors:        atomic.LoadUint64(&s.errors),
	}
}
