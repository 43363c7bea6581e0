package referrals

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
)

const (
	codePrefix   = "REF-"
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 5
)

type AttributeInput struct {
	RefCode    string
	OrderID    uuid.UUID
	CustomerID uuid.UUID
}

// AttributeResult is nil when the code matched no referral.
type AttributeResult struct {
	Referral *models.Referral `json:"referral"`
	Existing bool             `json:"existing"`
}

type Service interface {
	Create(ctx context.Context, retailerID uuid.UUID) (*models.Referral, error)
	Attribute(ctx context.Context, input AttributeInput) (*AttributeResult, error)
	// AttributeOrder lets checkout attribute without caring about the result.
	AttributeOrder(ctx context.Context, refCode string, orderID, customerID uuid.UUID) error
}

// CodeGenerator returns a candidate referral code.
type CodeGenerator func() (string, error)

type service struct {
	repo   Repository
	uow    db.UnitOfWork
	outbox outbox.Emitter
	logg   *logger.Logger
	codes  CodeGenerator
}

func NewService(repo Repository, uow db.UnitOfWork, emitter outbox.Emitter, logg *logger.Logger, codes CodeGenerator) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("referrals repository required")
	}
	if uow == nil {
		return nil, fmt.Errorf("unit of work required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if codes == nil {
		codes = RandomCode
	}
	return &service{repo: repo, uow: uow, outbox: emitter, logg: logg, codes: codes}, nil
}

// RandomCode draws REF-XXXXXX from an alphabet without look-alike characters.
func RandomCode() (string, error) {
	var b strings.Builder
	b.WriteString(codePrefix)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create returns the retailer's referral, issuing one on first use.
func (s *service) Create(ctx context.Context, retailerID uuid.UUID) (*models.Referral, error) {
	if retailerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "retailer id required")
	}

	var referral *models.Referral
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for attempt := 0; attempt < codeAttempts; attempt++ {
			existing, err := repo.FindByRetailer(ctx, retailerID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load referral")
			}
			if existing != nil {
				referral = existing
				return nil
			}

			code, err := s.codes()
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate referral code")
			}
			candidate := &models.Referral{RefCode: code, RetailerID: retailerID}
			created, err := repo.Create(ctx, candidate)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create referral")
			}
			if created {
				referral = candidate
				return nil
			}
			// Either the code collided or a concurrent call won for this
			// retailer; the next iteration tells which.
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique referral code")
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

// Attribute links an order to a referral once. An unknown code returns nil
// without touching anything.
func (s *service) Attribute(ctx context.Context, input AttributeInput) (*AttributeResult, error) {
	code := NormalizeCode(input.RefCode)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refCode required")
	}
	if input.OrderID == uuid.Nil || input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId and customerId required")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var result *AttributeResult
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		referral, err := repo.FindByCode(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load referral")
		}
		if referral == nil {
			return nil
		}

		created, err := repo.CreateAttribution(ctx, &models.ReferralAttribution{
			ReferralID: referral.ID,
			OrderID:    input.OrderID,
			CustomerID: input.CustomerID,
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				result = &AttributeResult{Referral: referral, Existing: true}
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create referral attribution")
		}
		if !created {
			result = &AttributeResult{Referral: referral, Existing: true}
			return nil
		}

		if err := repo.IncrementAttributed(ctx, referral.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment referral count")
		}
		updated, err := repo.FindByID(ctx, referral.ID)
		if err != nil || updated == nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload referral")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReferralAttributed,
			AggregateType: enums.AggregateReferral,
			AggregateID:   updated.ID,
			Actor:         &outbox.ActorRef{UserID: input.CustomerID},
			Data: payloads.ReferralAttributedEvent{
				ReferralID:       updated.ID,
				RefCode:          updated.RefCode,
				RetailerID:       updated.RetailerID,
				OrderID:          input.OrderID,
				CustomerID:       input.CustomerID,
				AttributedOrders: updated.AttributedOrders,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit referral attributed")
		}
		result = &AttributeResult{Referral: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil && !result.Existing {
		s.logg.Info(s.logg.WithField(ctx, "ref_code", code), "referral attributed")
	}
	return result, nil
}

func (s *service) AttributeOrder(ctx context.Context, refCode string, orderID, customerID uuid.UUID) error {
	_, err := s.Attribute(ctx, AttributeInput{RefCode: refCode, OrderID: orderID, CustomerID: customerID})
	return err
}
