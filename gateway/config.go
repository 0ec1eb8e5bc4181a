package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAlreadyConfigured signals a second attempt at the one-time
	// foreign-proxy registration.
	ErrAlreadyConfigured = errors.New("gateway: foreign proxy already registered")
	// ErrNotConfigured signals a forward call before registration.
	ErrNotConfigured = errors.New("gateway: foreign proxy not registered")
)

// ForeignProxy mirrors the singleton foreign_proxy row: the trusted
// counterpart on the foreign chain.
type ForeignProxy struct {
	Address   string
	ChainID   int64
	CreatedAt time.Time
}

// ConfigRepository persists the one-time foreign-proxy registration.
type ConfigRepository struct {
	pool *pgxpool.Pool
}

func NewConfigRepository(pool *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

// Register stores the foreign proxy exactly once. There is no access control
// beyond the once-only rule; two setup transactions racing to register is a
// known deployment-time limitation, not something resolved here.
// TODO: move registration to the foreign proxy's own setup flow.
func (r *ConfigRepository) Register(ctx context.Context, address string, chainID int64) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO foreign_proxy (id, address, chain_id)
		VALUES (true, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, address, chainID)
	if err != nil {
		return fmt.Errorf("gateway: register foreign proxy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConfigured
	}
	return nil
}

// Get returns the registered foreign proxy.
func (r *ConfigRepository) Get(ctx context.Context) (ForeignProxy, error) {
	var fp ForeignProxy
	err := r.pool.QueryRow(ctx, `SELECT address, chain_id, created_at FROM foreign_proxy`).
		Scan(&fp.Address, &fp.ChainID, &fp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ForeignProxy{}, ErrNotConfigured
		}
		return ForeignProxy{}, fmt.Errorf("gateway: get foreign proxy: %w", err)
	}
	return fp, nil
}
