// Package sqlmod provides a process-scope database/sql pool module and a
// request-scope Session for lessweb apps. The default driver is pgx.
package sqlmod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/zap"

	"github.com/bjaus/lessweb"
	"github.com/bjaus/lessweb/config"
)

// Section is the configuration section the module reads.
const Section = "database"

// ErrNotStarted is returned when a session is used before the module starts.
var ErrNotStarted = errors.New("sqlmod: module not started")

// Config configures the pool.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpen         int           `mapstructure:"max_open"`
	MaxIdle         int           `mapstructure:"max_idle"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Module is the process-scope owner of the *sql.DB pool.
type Module struct {
	cfg    Config
	logger *zap.Logger
	open   func(driver, dsn string) (*sql.DB, error)
	db     *sql.DB
}

// Option configures a Module.
type Option func(*Module)

// WithDB makes the module use db instead of opening its own pool.
func WithDB(db *sql.DB) Option {
	return func(m *Module) {
		m.open = func(string, string) (*sql.DB, error) { return db, nil }
	}
}

// New builds a module from the database section of cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Module, error) {
	var c Config
	if err := cfg.Section(Section, &c); err != nil {
		return nil, err
	}
	return NewWithConfig(c, logger), nil
}

// NewWithConfig builds a module from an explicit Config.
func NewWithConfig(c Config, logger *zap.Logger, opts ...Option) *Module {
	if c.Driver == "" {
		c.Driver = "pgx"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Module{cfg: c, logger: logger, open: sql.Open}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStart opens the pool and pings the database.
func (m *Module) OnStart(ctx context.Context) error {
	db, err := m.open(m.cfg.Driver, m.cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlmod: open %s: %w", m.cfg.Driver, err)
	}
	if m.cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(m.cfg.MaxOpen)
	}
	if m.cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(m.cfg.MaxIdle)
	}
	if m.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		//nolint:errcheck,gosec // the ping error is the one worth reporting
		db.Close()
		return fmt.Errorf("sqlmod: ping: %w", err)
	}
	m.db = db
	m.logger.Info("database connected", zap.String("driver", m.cfg.Driver))
	return nil
}

// OnStop closes the pool.
func (m *Module) OnStop(context.Context) error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// DB returns the pool, or nil before OnStart.
func (m *Module) DB() *sql.DB { return m.db }

// Session is a request's database session. It holds one pooled connection,
// acquired on first use and returned to the pool when the request scope
// closes.
type Session struct {
	m    *Module
	conn *sql.Conn
}

// NewSession is the request-scope constructor for *Session.
func NewSession(m *Module) *Session {
	return &Session{m: m}
}

// Conn returns the session's connection, acquiring it on first call.
func (s *Session) Conn(ctx context.Context) (*sql.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	if s.m.db == nil {
		return nil, ErrNotStarted
	}
	conn, err := s.m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlmod: acquire connection: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// ExecContext runs a statement on the session's connection.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the session's connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

// Tx runs fn in a transaction on the session's connection. The transaction
// commits if fn returns nil and rolls back otherwise.
func (s *Session) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	conn, err := s.Conn(ctx)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlmod: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlmod: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlmod: commit: %w", err)
	}
	return nil
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Register adds the module and the *Session service to app.
func Register(app *lessweb.App) error {
	if err := app.RegisterModule(New); err != nil {
		return err
	}
	return app.RegisterService(NewSession)
}
