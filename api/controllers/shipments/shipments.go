package shipments

import (
	"net/http"

	"github.com/angelmondragon/pharmaflow-backend/api/controllers"
	"github.com/angelmondragon/pharmaflow-backend/api/responses"
	"github.com/angelmondragon/pharmaflow-backend/api/validators"
	internalshipments "github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

// Create provisions a shipment. A carrier failure still answers 201 with the
// FAILED shipment so the caller can inspect lastError and retry with force.
func Create(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("shipments"))
			return
		}
		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.ParseUUID(req.OrderID, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalshipments.CreateInput{OrderID: orderID, Force: req.Force}
		if req.Provider != "" {
			provider, err := enums.ParseShippingProvider(req.Provider)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
				return
			}
			input.Provider = provider
		}

		shipment, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toShipmentResponse(shipment))
	}
}

func Track(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("shipments"))
			return
		}
		orderID, err := controllers.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.Track(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}

func Cancel(svc internalshipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("shipments"))
			return
		}
		orderID, err := controllers.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.Cancel(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(shipment))
	}
}
