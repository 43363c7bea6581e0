package points

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/pharmaflow-backend/api/controllers"
	"github.com/angelmondragon/pharmaflow-backend/api/middleware"
	"github.com/angelmondragon/pharmaflow-backend/api/responses"
	"github.com/angelmondragon/pharmaflow-backend/api/validators"
	internalpoints "github.com/angelmondragon/pharmaflow-backend/internal/points"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/pagination"
)

func Balance(svc internalpoints.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("points"))
			return
		}
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{UserID: userID, Balance: balance})
	}
}

// History pages the caller's ledger newest first.
func History(svc internalpoints.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("points"))
			return
		}
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := historyResponse{Entries: make([]entryResponse, 0, len(page.Entries)), NextCursor: page.NextCursor}
		for i := range page.Entries {
			out.Entries = append(out.Entries, toEntryResponse(&page.Entries[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Earn credits points to any user; mounted behind the staff guard.
func Earn(svc internalpoints.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("points"))
			return
		}
		actorID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req earnRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := controllers.ParseUUID(req.UserID, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Earn(r.Context(), internalpoints.AdjustInput{
			UserID: userID,
			Points: req.Points,
			Source: strings.TrimSpace(req.Source),
			Actor:  &outbox.ActorRef{UserID: actorID, Role: string(role)},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toEntryResponse(entry))
	}
}

// Redeem spends the caller's own points.
func Redeem(svc internalpoints.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, controllers.Unavailable("points"))
			return
		}
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req redeemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Redeem(r.Context(), internalpoints.AdjustInput{
			UserID: userID,
			Points: req.Points,
			Source: strings.TrimSpace(req.Source),
			Actor:  &outbox.ActorRef{UserID: userID, Role: string(role)},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toEntryResponse(entry))
	}
}
