package controllers

import (
	"net/http"

	"github.com/angelmondragon/ledgermatch-backend/api/middleware"
	"github.com/angelmondragon/ledgermatch-backend/api/responses"
	"github.com/angelmondragon/ledgermatch-backend/api/validators"
	"github.com/angelmondragon/ledgermatch-backend/internal/auth"
	"github.com/angelmondragon/ledgermatch-backend/internal/users"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

const (
	accessTokenHeader  = "Authorization"
	refreshTokenHeader = "X-Refresh-Token"
)

func writeTokens(w http.ResponseWriter, result *auth.LoginResponse) {
	w.Header().Set(accessTokenHeader, "Bearer "+result.AccessToken)
	w.Header().Set(refreshTokenHeader, result.RefreshToken)
}

// AuthRegister creates an account and signs it in.
func AuthRegister(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Register(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeTokens(w, result)
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AuthLogin wires the login endpoint into the HTTP layer.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeTokens(w, result)
		responses.WriteSuccess(w, result)
	}
}

// AuthMe returns the authenticated user.
func AuthMe(svc users.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "users service unavailable"))
			return
		}

		actor := middleware.ActorID(r.Context())
		if actor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context"))
			return
		}

		user, err := svc.Get(r.Context(), *actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, user)
	}
}
