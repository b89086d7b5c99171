package database

import (
	"context"
	"fmt"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sand/paymesh/backend/config"
)

const (
	defaultMaxPoolSize       = 10
	defaultConnTimeout       = 5 * time.Second
	defaultHealthCheckPeriod = time.Minute
	defaultConnAttempts      = 5
)

// Postgres is a connection pool plus the transactor the repositories share.
type Postgres struct {
	maxPoolSize       int32
	connTimeout       time.Duration
	healthCheckPeriod time.Duration
	isolation         pgx.TxIsoLevel
	connAttempts      int

	Pool       *pgxpool.Pool
	DBGetter   tx.DBGetter
	Transactor *tx.Transactor
}

type Option func(*Postgres)

func MaxPoolSize(size int32) Option {
	return func(p *Postgres) {
		if size > 0 {
			p.maxPoolSize = size
		}
	}
}

// ConnTimeout is in seconds, like the rest of the config.
func ConnTimeout(seconds int) Option {
	return func(p *Postgres) {
		if seconds > 0 {
			p.connTimeout = time.Duration(seconds) * time.Second
		}
	}
}

// HealthCheckPeriod is in minutes.
func HealthCheckPeriod(minutes int) Option {
	return func(p *Postgres) {
		if minutes > 0 {
			p.healthCheckPeriod = time.Duration(minutes) * time.Minute
		}
	}
}

// Isolation sets the default isolation level of every session.
func Isolation(level pgx.TxIsoLevel) Option {
	return func(p *Postgres) {
		p.isolation = level
	}
}

func New(cfg *config.Config, opts ...Option) (*Postgres, error) {
	pg := &Postgres{
		maxPoolSize:       defaultMaxPoolSize,
		connTimeout:       defaultConnTimeout,
		healthCheckPeriod: defaultHealthCheckPeriod,
		connAttempts:      defaultConnAttempts,
	}
	for _, opt := range opts {
		opt(pg)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DB.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = pg.maxPoolSize
	poolConfig.HealthCheckPeriod = pg.healthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = pg.connTimeout
	if pg.isolation != "" {
		isolation := pg.isolation
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL %s", isolation))
			return err
		}
	}

	for attempt := 1; attempt <= pg.connAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pg.connTimeout)
		pg.Pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			err = pg.Pool.Ping(ctx)
		}
		cancel()
		if err == nil {
			break
		}
		if pg.Pool != nil {
			pg.Pool.Close()
			pg.Pool = nil
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", pg.connAttempts, err)
	}

	pg.attach(pg.Pool)

	return pg, nil
}

// attach binds the transactor to the pool. Nested WithinTransaction calls become savepoints.
func (p *Postgres) attach(pool *pgxpool.Pool) {
	p.Pool = pool
	p.Transactor, p.DBGetter = tx.NewTransactorFromPool(pool)
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
