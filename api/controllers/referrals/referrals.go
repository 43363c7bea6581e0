package referrals

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/api/controllers"
	"github.com/angelmondragon/pharmaflow-backend/api/middleware"
	"github.com/angelmondragon/pharmaflow-backend/api/responses"
	"github.com/angelmondragon/pharmaflow-backend/api/validators"
	internalreferrals "github.com/angelmondragon/pharmaflow-backend/internal/referrals"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

// Create returns the retailer's referral code. Staff may issue one for any
// retailer by passing retailerId.
func Create(svc internalreferrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("referrals"))
			return
		}
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		retailerID := userID
		if req.RetailerID != "" {
			if !role.Staff() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only staff may issue codes for another retailer"))
				return
			}
			if retailerID, err = controllers.ParseUUID(req.RetailerID, "retailerId"); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		referral, err := svc.Create(r.Context(), retailerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toReferralResponse(referral))
	}
}

// Attribute credits a referral with an order. The customer defaults to the caller.
func Attribute(svc internalreferrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("referrals"))
			return
		}
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req attributeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.ParseUUID(req.OrderID, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		customerID := userID
		if req.CustomerID != "" {
			if customerID, err = controllers.ParseUUID(req.CustomerID, "customerId"); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if customerID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "customerId required"))
			return
		}

		result, err := svc.Attribute(r.Context(), internalreferrals.AttributeInput{
			RefCode:    req.RefCode,
			OrderID:    orderID,
			CustomerID: customerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := attributeResponse{}
		if result != nil {
			referral := toReferralResponse(result.Referral)
			out.Referral = &referral
			out.Existing = result.Existing
		}
		responses.WriteSuccess(w, out)
	}
}
