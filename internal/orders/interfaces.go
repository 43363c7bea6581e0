package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// Repository defines persistence operations for orders and the stock they hold.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	RestockProduct(ctx context.Context, productID uuid.UUID, qty int) error
}

// ReferralAttributor credits a referral code with a placed order.
type ReferralAttributor interface {
	AttributeOrder(ctx context.Context, refCode string, orderID, customerID uuid.UUID) error
}
