package webhookledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

// maxIDLength bounds stored identifiers; longer ones are replaced by their hash.
const maxIDLength = 96

// Entry is one inbound delivery to gate.
type Entry struct {
	Provider  enums.WebhookProvider
	EventID   string
	EventType string
	Payload   []byte
}

// Result reports whether the delivery was already recorded.
type Result struct {
	Processed bool `json:"processed"`
	Existing  bool `json:"existing,omitempty"`
}

// Ledger is the write-once gate every webhook passes before side effects.
type Ledger interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (Result, error)
}

type ledger struct{}

// New returns the gorm-backed ledger.
func New() Ledger {
	return ledger{}
}

// Record inserts the entry unless (provider, event_id) already exists. The
// insert must run in the same unit of work as the side effects it guards.
func (ledger) Record(ctx context.Context, tx *gorm.DB, entry Entry) (Result, error) {
	if tx == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeInternal, "webhook ledger requires a database handle")
	}
	if !entry.Provider.IsValid() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown webhook provider")
	}
	if strings.TrimSpace(entry.EventID) == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook event id is required")
	}

	row := models.WebhookEvent{
		Provider:  entry.Provider,
		EventID:   entry.EventID,
		EventType: entry.EventType,
		Payload:   payloadJSON(entry.Payload),
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "record webhook event")
	}
	if res.RowsAffected == 0 {
		return Result{Processed: true, Existing: true}, nil
	}
	return Result{Processed: true}, nil
}

// DeriveEventID picks the dedup key for a delivery: the provider's explicit
// id, else a natural key such as an order id or AWB, else a hash of the raw
// payload. The result is namespaced by provider.
func DeriveEventID(provider enums.WebhookProvider, explicitID, naturalKey string, payload []byte) string {
	id := strings.TrimSpace(explicitID)
	if id == "" {
		id = strings.TrimSpace(naturalKey)
	}
	if id == "" {
		id = hashHex(payload)
	}
	if len(id) > maxIDLength {
		id = hashHex([]byte(id))
	}
	return provider.String() + "_" + id
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func payloadJSON(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		encoded, _ := json.Marshal(map[string]string{"raw": string(payload)})
		return encoded
	}
	return json.RawMessage(payload)
}
