package referrals

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
)

type createRequest struct {
	RetailerID string `json:"retailerId" validate:"omitempty,uuid"`
}

type attributeRequest struct {
	RefCode    string `json:"refCode" validate:"required,max=32"`
	OrderID    string `json:"orderId" validate:"required,uuid"`
	CustomerID string `json:"customerId" validate:"omitempty,uuid"`
}

type referralResponse struct {
	ID               uuid.UUID `json:"id"`
	RefCode          string    `json:"refCode"`
	RetailerID       uuid.UUID `json:"retailerId"`
	AttributedOrders int64     `json:"attributedOrders"`
	CreatedAt        time.Time `json:"createdAt"`
}

// attributeResponse carries a nil referral when the code matched nothing.
type attributeResponse struct {
	Referral *referralResponse `json:"referral"`
	Existing bool              `json:"existing"`
}

func toReferralResponse(r *models.Referral) referralResponse {
	return referralResponse{
		ID:               r.ID,
		RefCode:          r.RefCode,
		RetailerID:       r.RetailerID,
		AttributedOrders: r.AttributedOrders,
		CreatedAt:        r.CreatedAt,
	}
}
