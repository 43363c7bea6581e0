package shipments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

type createRequest struct {
	OrderID  string `json:"orderId" validate:"required,uuid"`
	Provider string `json:"provider" validate:"omitempty,oneof=shiprocket delhivery SHIPROCKET DELHIVERY"`
	Force    bool   `json:"force"`
}

type shipmentResponse struct {
	ID              uuid.UUID              `json:"id"`
	OrderID         uuid.UUID              `json:"orderId"`
	Provider        enums.ShippingProvider `json:"provider"`
	ProviderOrderID *string                `json:"providerOrderId,omitempty"`
	ShipmentID      *string                `json:"shipmentId,omitempty"`
	AWB             *string                `json:"awb,omitempty"`
	CourierName     *string                `json:"courierName,omitempty"`
	Status          enums.ShipmentStatus   `json:"status"`
	LastError       *string                `json:"lastError,omitempty"`
	Tracking        json.RawMessage        `json:"tracking,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func toShipmentResponse(s *models.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:              s.ID,
		OrderID:         s.OrderID,
		Provider:        s.Provider,
		ProviderOrderID: s.ProviderOrderID,
		ShipmentID:      s.ShipmentID,
		AWB:             s.AWB,
		CourierName:     s.CourierName,
		Status:          s.Status,
		LastError:       s.LastError,
		Tracking:        s.TrackingPayload,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
