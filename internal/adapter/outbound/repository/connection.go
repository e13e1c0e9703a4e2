package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingTimeout       = 5 * time.Second
	defaultMaxConns   = 10
	defaultSSLMode    = "disable"
	postgresURLScheme = "postgres"
)

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `validate:"required"`
	Port           int    `validate:"min=1,max=65535"`
	Database       string `validate:"required"`
	Username       string `validate:"required"`
	Password       string
	Schema         string `validate:"required"`
	MaxConnections int    `validate:"gte=0"`
	SSLMode        string `validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

// Validate reports the first invalid field.
func (c DatabaseConfig) Validate() error {
	err := validator.New().Struct(c)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fe := fieldErrs[0]
		return fmt.Errorf("invalid database config: %s failed %q", strings.ToLower(fe.Field()), fe.Tag())
	}
	return err
}

// URL returns the connection URL with the schema set as search_path.
func (c DatabaseConfig) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("search_path", c.Schema)

	u := url.URL{
		Scheme:   postgresURLScheme,
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// PoolConfig validates c and parses it into a pgxpool config.
func (c DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	poolConfig, err := pgxpool.ParseConfig(c.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = defaultMaxConns
	if c.MaxConnections > 0 {
		poolConfig.MaxConns = int32(c.MaxConnections)
	}
	return poolConfig, nil
}

// NewDatabaseConnection opens a pool and verifies the server answers.
func NewDatabaseConnection(ctx context.Context, config DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := config.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, dbError("ping database", err)
	}
	return pool, nil
}
