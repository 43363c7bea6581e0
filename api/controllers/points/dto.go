package points

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// Points are range-checked by the ledger, which answers INVALID_AMOUNT.
type earnRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Points int64  `json:"points"`
	Source string `json:"source" validate:"max=64"`
}

type redeemRequest struct {
	Points int64  `json:"points"`
	Source string `json:"source" validate:"max=64"`
}

type balanceResponse struct {
	UserID  uuid.UUID `json:"userId"`
	Balance int64     `json:"balance"`
}

type entryResponse struct {
	ID        uuid.UUID             `json:"id"`
	UserID    uuid.UUID             `json:"userId"`
	Type      enums.PointsEntryType `json:"type"`
	Points    int64                 `json:"points"`
	Source    string                `json:"source"`
	OrderID   *uuid.UUID            `json:"orderId,omitempty"`
	Metadata  json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
}

type historyResponse struct {
	Entries    []entryResponse `json:"entries"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

func toEntryResponse(entry *models.PointsLedgerEntry) entryResponse {
	return entryResponse{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Type:      entry.Type,
		Points:    entry.Points,
		Source:    entry.Source,
		OrderID:   entry.OrderID,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
}
