// Package sql persists events to a MySQL table.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/sink"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultTable = "events"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds SQL sink configuration.
type Config struct {
	// DSN is either a go-sql-driver DSN (user:pass@tcp(host:3306)/db) or a
	// mysql:// URL as found in DATABASE_URL.
	DSN          string        `yaml:"dsn"`
	Table        string        `yaml:"table,omitempty"`
	CreateTable  bool          `yaml:"createTable,omitempty"`
	MaxOpenConns int           `yaml:"maxOpenConns,omitempty"`
	PingTimeout  time.Duration `yaml:"pingTimeout,omitempty"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Sink inserts one row per event.
type Sink struct {
	db      execer
	closer  func() error
	prepare *sink.Prepare
	table  string
	insert string
	logger *slog.Logger
	tracer trace.Tracer
}

// Open validates cfg and prepares the database handle. No connection is made
// here: the first delivery pings the server and creates the table if asked,
// and repeats that until it succeeds.
func Open(cfg Config, logger *slog.Logger) (*Sink, error) {
	dsn, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := newSink(db, cfg.Table, logger)
	s.closer = db.Close
	s.prepare = sink.NewPrepare(func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if cfg.CreateTable {
			if _, err := db.ExecContext(ctx, createTableSQL(cfg.Table)); err != nil {
				return fmt.Errorf("create table %s: %w", cfg.Table, err)
			}
		}
		return nil
	})
	return s, nil
}

func newSink(db execer, table string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		db:      db,
		closer:  func() error { return nil },
		prepare: sink.NewPrepare(nil),
		table:   table,
		insert:  "insert into " + table + " set received_at=?, correlation_id=?, sequence=?, payload=?",
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("sql-sink"),
	}
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// Deliver inserts the event.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()
	corrID := correlation.ExtractOrGenerate(headers)
	seq := sink.Sequence(headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanSQLInsert,
		trace.WithAttributes(
			tracing.DBTableAttr(s.table),
			tracing.SequenceAttr(seq),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	err := s.prepare.Ensure(ctx)
	if err == nil {
		if _, err = s.db.ExecContext(ctx, s.insert, sink.ReceivedAt(headers), corrID.Value, seq, event); err != nil {
			err = fmt.Errorf("insert event: %w", err)
		}
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed",
			"correlation_id", corrID.Value,
			"target", s.table,
			"error", err,
		)
		return err
	}

	tracing.SetSpanOK(span)
	s.logger.Debug("event delivered",
		"correlation_id", corrID.Value,
		"target", s.table,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close closes the database handle.
func (s *Sink) Close() error {
	return s.closer()
}

func createTableSQL(table string) string {
	return `create table if not exists ` + table + ` (
  id bigint not null auto_increment,
  received_at datetime(6) not null,
  correlation_id varchar(64) not null,
  sequence bigint unsigned not null,
  payload longblob not null,

  primary key (id),
  index by_received_at (received_at)
)`
}

// ParseDSN converts a mysql:// URL into a driver DSN. Other values are
// validated as driver DSNs and returned normalised. parseTime is always on.
func ParseDSN(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("database url is required")
	}

	dsn := raw
	if strings.HasPrefix(raw, "mysql://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		addr := u.Host
		if u.Port() == "" {
			addr += ":3306"
		}
		var userinfo string
		if u.User != nil {
			userinfo = u.User.Username()
			if pass, ok := u.User.Password(); ok {
				userinfo += ":" + pass
			}
			userinfo += "@"
		}
		dsn = userinfo + "tcp(" + addr + ")" + u.Path
		if u.RawQuery != "" {
			dsn += "?" + u.RawQuery
		}
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.DBName == "" {
		return "", errors.New("database name is required")
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
