package webhooks

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/angelmondragon/pharmaflow-backend/api/controllers"
	"github.com/angelmondragon/pharmaflow-backend/api/responses"
	"github.com/angelmondragon/pharmaflow-backend/api/validators"
	"github.com/angelmondragon/pharmaflow-backend/internal/payments"
	"github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayEventIDHeader   = "X-Razorpay-Event-Id"
	carrierTokenHeader      = "X-Api-Key"
)

type intentWebhookRequest struct {
	Token   string `json:"token" validate:"required,max=128"`
	Status  string `json:"status" validate:"required"`
	EventID string `json:"eventId" validate:"max=128"`
}

// Razorpay settles gateway deliveries. Once the signature verifies the answer
// is always 200 so the gateway stops retrying.
func Razorpay(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, controllers.Unavailable("payments"))
			return
		}

		payload, err := validators.ReadRawBody(r, validators.MaxWebhookBody)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		signature := strings.TrimSpace(r.Header.Get(razorpaySignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "razorpay signature missing"))
			return
		}

		result, err := svc.HandleWebhook(ctx, payments.WebhookInput{
			Body:      payload,
			Signature: signature,
			EventID:   strings.TrimSpace(r.Header.Get(razorpayEventIDHeader)),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Carrier accepts a tracking callback for one shipping provider. The shared
// token arrives in X-Api-Key or Authorization.
func Carrier(svc shipments.Service, provider enums.ShippingProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, controllers.Unavailable("shipments"))
			return
		}

		payload, err := validators.ReadRawBody(r, validators.MaxWebhookBody)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.HandleWebhook(ctx, shipments.WebhookInput{
			Provider: provider,
			Token:    carrierToken(r),
			Body:     payload,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentIntents settles tokenized intents; mounted behind BearerSecret.
func PaymentIntents(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, controllers.Unavailable("payments"))
			return
		}

		payload, err := validators.ReadRawBody(r, validators.MaxWebhookBody)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req intentWebhookRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
			return
		}
		if err := validators.ValidateStruct(&req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.HandleIntentWebhook(ctx, payments.IntentWebhookInput{
			Token:   strings.TrimSpace(req.Token),
			Status:  enums.PaymentIntentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
			EventID: strings.TrimSpace(req.EventID),
			Body:    payload,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func carrierToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(carrierTokenHeader)); token != "" {
		return token
	}
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
