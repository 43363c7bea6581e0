package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

type createOrderRequest struct {
	CustomerName  string              `json:"customerName" validate:"required,max=120"`
	CustomerPhone string              `json:"customerPhone" validate:"required,max=20"`
	CustomerEmail *string             `json:"customerEmail" validate:"omitempty,email"`
	AddressLine   string              `json:"addressLine" validate:"required,max=255"`
	City          string              `json:"city" validate:"required,max=80"`
	State         string              `json:"state" validate:"required,max=80"`
	Pincode       string              `json:"pincode" validate:"required,max=10"`
	RefCode       *string             `json:"refCode" validate:"omitempty,max=32"`
	Items         []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	ProductID string           `json:"productId" validate:"required,uuid"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Batch     *string          `json:"batch" validate:"omitempty,max=64"`
	Rate      *decimal.Decimal `json:"rate"`
	Discount  *decimal.Decimal `json:"discount"`
	CGST      *decimal.Decimal `json:"cgst"`
	SGST      *decimal.Decimal `json:"sgst"`
	Amount    *decimal.Decimal `json:"amount"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type orderResponse struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	BuyerID       uuid.UUID           `json:"buyerId"`
	CustomerName  string              `json:"customerName"`
	CustomerPhone string              `json:"customerPhone"`
	CustomerEmail *string             `json:"customerEmail,omitempty"`
	AddressLine   string              `json:"addressLine"`
	City          string              `json:"city"`
	State         string              `json:"state"`
	Pincode       string              `json:"pincode"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	TotalDiscount decimal.Decimal     `json:"totalDiscount"`
	TotalGST      decimal.Decimal     `json:"totalGst"`
	NetAmount     decimal.Decimal     `json:"netAmount"`
	Status        enums.OrderStatus   `json:"status"`
	RefCode       *string             `json:"refCode,omitempty"`
	Items         []orderItemResponse `json:"items"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

type orderItemResponse struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName"`
	Batch       *string         `json:"batch,omitempty"`
	Quantity    int             `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Discount    decimal.Decimal `json:"discount"`
	GSTPercent  decimal.Decimal `json:"gstPercent"`
	CGST        decimal.Decimal `json:"cgst"`
	SGST        decimal.Decimal `json:"sgst"`
	Amount      decimal.Decimal `json:"amount"`
}

func toOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Batch:       item.Batch,
			Quantity:    item.Quantity,
			Rate:        item.Rate,
			Discount:    item.Discount,
			GSTPercent:  item.GSTPercent,
			CGST:        item.CGST,
			SGST:        item.SGST,
			Amount:      item.Amount,
		})
	}
	return orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		CustomerEmail: order.CustomerEmail,
		AddressLine:   order.AddressLine,
		City:          order.City,
		State:         order.State,
		Pincode:       order.Pincode,
		Subtotal:      order.Subtotal,
		TotalDiscount: order.TotalDiscount,
		TotalGST:      order.TotalGST,
		NetAmount:     order.NetAmount,
		Status:        order.Status,
		RefCode:       order.RefCode,
		Items:         items,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
