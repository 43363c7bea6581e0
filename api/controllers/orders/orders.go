package orders

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/pharmaflow-backend/api/controllers"
	"github.com/angelmondragon/pharmaflow-backend/api/middleware"
	"github.com/angelmondragon/pharmaflow-backend/api/responses"
	"github.com/angelmondragon/pharmaflow-backend/api/validators"
	internalorders "github.com/angelmondragon/pharmaflow-backend/internal/orders"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

// Create places an order for the caller.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("orders"))
			return
		}
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalorders.CreateOrderInput{
			BuyerID:       userID,
			BuyerRole:     role,
			CustomerName:  validators.SanitizeString(req.CustomerName, 120),
			CustomerPhone: validators.SanitizeString(req.CustomerPhone, 20),
			CustomerEmail: req.CustomerEmail,
			AddressLine:   validators.SanitizeString(req.AddressLine, 255),
			City:          validators.SanitizeString(req.City, 80),
			State:         validators.SanitizeString(req.State, 80),
			Pincode:       validators.SanitizeString(req.Pincode, 10),
			RefCode:       req.RefCode,
			Items:         make([]internalorders.ItemInput, 0, len(req.Items)),
		}
		for _, item := range req.Items {
			productID, err := controllers.ParseUUID(item.ProductID, "productId")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.Items = append(input.Items, internalorders.ItemInput{
				ProductID: productID,
				Quantity:  item.Quantity,
				Batch:     item.Batch,
				Rate:      item.Rate,
				Discount:  item.Discount,
				CGST:      item.CGST,
				SGST:      item.SGST,
				Amount:    item.Amount,
			})
		}

		order, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toOrderResponse(order))
	}
}

// Get returns an order to its buyer or to staff.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("orders"))
			return
		}
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, userID, role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// UpdateStatus cancels or delivers an order.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("orders"))
			return
		}
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID:     orderID,
			Status:      status,
			ActorUserID: userID,
			ActorRole:   role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}
