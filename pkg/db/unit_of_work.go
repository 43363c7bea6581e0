package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
)

// UnitOfWork runs a block of repository calls as one logical operation.
//
// The atomic implementation commits or rolls back everything together. The
// sequential implementation executes the same block statement by statement
// for deployments without multi-statement transactions; callers check Atomic
// to decide how to report a failure that happens after earlier writes landed.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx *gorm.DB) error) error
	Atomic() bool
}

// TxUnitOfWork runs fn inside a database transaction.
type TxUnitOfWork struct {
	client *Client
}

func NewTxUnitOfWork(client *Client) *TxUnitOfWork {
	return &TxUnitOfWork{client: client}
}

func (u *TxUnitOfWork) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return u.client.WithTx(ctx, fn)
}

func (u *TxUnitOfWork) Atomic() bool { return true }

// SequentialUnitOfWork runs fn against the base connection. Writes made before
// an error are not undone.
type SequentialUnitOfWork struct {
	conn *gorm.DB
}

func NewSequentialUnitOfWork(conn *gorm.DB) *SequentialUnitOfWork {
	return &SequentialUnitOfWork{conn: conn}
}

func (u *SequentialUnitOfWork) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(u.conn.WithContext(ctx))
}

func (u *SequentialUnitOfWork) Atomic() bool { return false }

// NewUnitOfWork picks the implementation configured for this deployment.
func NewUnitOfWork(client *Client, cfg config.DBConfig) UnitOfWork {
	if cfg.Transactions {
		return NewTxUnitOfWork(client)
	}
	return NewSequentialUnitOfWork(client.DB())
}
