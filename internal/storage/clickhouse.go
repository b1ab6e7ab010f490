package storage

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"loginwatch/internal/event"
)

const eventsTable = "login_events"

// ClickHouseConfig holds the configuration for the ClickHouse
// connection.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// DefaultClickHouseConfig returns the default ClickHouse configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "loginwatch",
		Username:        "default",
		Password:        "",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		TLSEnabled:      false,
		DialTimeout:     10 * time.Second,
	}
}

// ClickHouseClient wraps the ClickHouse connection.
type ClickHouseClient struct {
	conn   driver.Conn
	config ClickHouseConfig
}

// NewClickHouseClient opens and verifies a ClickHouse connection.
func NewClickHouseClient(cfg ClickHouseConfig) (*ClickHouseClient, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, WrapConnectionError("Open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, WrapConnectionError("Ping", err)
	}

	return &ClickHouseClient{conn: conn, config: cfg}, nil
}

// Close closes the ClickHouse connection.
func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}

// Ping checks if the connection is alive.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec executes a query without returning rows.
func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// Query executes a query and returns rows.
func (c *ClickHouseClient) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// QueryRow executes a query expected to return a single row.
func (c *ClickHouseClient) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}

// Database returns the configured database name.
func (c *ClickHouseClient) Database() string {
	return c.config.Database
}

// ClickHouseStore implements Store on ClickHouse. Identifier assignment
// is a single-writer discipline: the append mutex covers id allocation
// and the insert, so ids are strictly increasing and an id is only
// consumed once its row has committed.
type ClickHouseStore struct {
	client *ClickHouseClient

	mu     sync.Mutex
	lastID int64
	closed bool
}

var _ Store = (*ClickHouseStore)(nil)

// NewClickHouseStore creates a store over an open client. The highest
// existing identifier is loaded up front so restarts keep ids
// monotonic.
func NewClickHouseStore(ctx context.Context, client *ClickHouseClient) (*ClickHouseStore, error) {
	s := &ClickHouseStore{client: client}

	row := client.QueryRow(ctx, "SELECT max(id) FROM login_events")
	var maxID uint64
	if err := row.Scan(&maxID); err != nil {
		return nil, WrapQueryError("Init", eventsTable, err)
	}
	s.lastID = int64(maxID)

	return s, nil
}

// Append persists a login event stamped at the current UTC second.
func (s *ClickHouseStore) Append(ctx context.Context, via event.DetectedVia) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, &StorageError{Op: "Append", Table: eventsTable, Err: ErrClosed}
	}

	ev := event.NewLoginEvent(via, time.Now())
	id := s.lastID + 1

	err := s.client.Exec(ctx, `
		INSERT INTO login_events (id, timestamp, unix_timestamp, detected_via)
		VALUES (?, ?, ?, ?)`,
		uint64(id), ev.Timestamp, ev.UnixTimestamp, string(ev.DetectedVia),
	)
	if err != nil {
		return 0, WrapAppendError("Append", eventsTable, err)
	}

	s.lastID = id
	return id, nil
}

// CountInRange counts events in the half-open interval [start, end).
func (s *ClickHouseStore) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	row := s.client.QueryRow(ctx, `
		SELECT count() FROM login_events
		WHERE unix_timestamp >= ? AND unix_timestamp < ?`,
		start.Unix(), end.Unix(),
	)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("CountInRange", eventsTable, err)
	}
	return int(count), nil
}

// TotalCount returns the number of events ever recorded.
func (s *ClickHouseStore) TotalCount(ctx context.Context) (int, error) {
	row := s.client.QueryRow(ctx, "SELECT count() FROM login_events")

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("TotalCount", eventsTable, err)
	}
	return int(count), nil
}

// EventsInRange returns events in [start, end) ordered by timestamp,
// then identifier.
func (s *ClickHouseStore) EventsInRange(ctx context.Context, start, end time.Time) ([]event.LoginEvent, error) {
	rows, err := s.client.Query(ctx, `
		SELECT id, timestamp, unix_timestamp, detected_via
		FROM login_events
		WHERE unix_timestamp >= ? AND unix_timestamp < ?
		ORDER BY unix_timestamp ASC, id ASC`,
		start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, WrapQueryError("EventsInRange", eventsTable, err)
	}
	defer rows.Close()

	var events []event.LoginEvent
	for rows.Next() {
		var (
			id   uint64
			ts   string
			unix int64
			via  string
		)
		if err := rows.Scan(&id, &ts, &unix, &via); err != nil {
			return nil, WrapQueryError("EventsInRange", eventsTable, err)
		}
		events = append(events, event.LoginEvent{
			ID:            int64(id),
			Timestamp:     ts,
			UnixTimestamp: unix,
			DetectedVia:   event.DetectedVia(via),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("EventsInRange", eventsTable, err)
	}

	return events, nil
}

// Close marks the store closed and closes the client connection.
func (s *ClickHouseStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.client.Close()
}
