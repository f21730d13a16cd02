/*
Package handler provides the HTTP handlers and routing setup for the Kwite server.

This file contains the authentication handlers: registration, login, and the
current profile lookup. Both register and login issue a session JWT.
*/
package handler

import (
	"net/http"
	"time"

	"kwite/internal/app/identity"
	"kwite/internal/app/user"
	"kwite/internal/pkg/auth/jwt"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
	"kwite/internal/pkg/req"
	"kwite/internal/pkg/resp"
)

type RegisterInput struct {
	Handle string `json:"handle"`
	Secret string `json:"secret"`
}

// HandleRegister creates a new account. The first registration of the reserved
// admin handle becomes the administrator; all others start pending.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input RegisterInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		profile, customErr := deps.Identity.Register(r.Context(), input.Handle, input.Secret)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		respondSession(w, r, deps, profile)
	}
}

type LoginInput struct {
	Handle string `json:"handle"`
	Secret string `json:"secret"`
}

// HandleLogin verifies credentials and issues a session JWT.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		profile, customErr := deps.Identity.Login(r.Context(), input.Handle, input.Secret)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		respondSession(w, r, deps, profile)
	}
}

// HandleGetProfile returns the authenticated caller's own profile and access
// state. A pending client polls this while waiting for approval.
func HandleGetProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, customErr := callerProfile(deps, r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user":   profileView(profile),
			"access": identity.CurrentAccessState(&profile),
		})
	}
}

// respondSession issues a JWT for the profile and writes the session response.
func respondSession(w http.ResponseWriter, r *http.Request, deps *AppDeps, profile user.Profile) {
	payload := &jwt.Payload{
		AuthID: profile.AuthID,
		Handle: profile.FoldedHandle(),
	}

	token, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.SessionExpiration)
	if err != nil {
		logx.Error(err, "session token generation failed", "handle", profile.FoldedHandle())
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, r, map[string]any{
		"token":  token,
		"user":   profileView(profile),
		"access": identity.CurrentAccessState(&profile),
	})
}

// profileView is the profile shape exposed to the owner.
func profileView(profile user.Profile) map[string]any {
	return map[string]any{
		"handle":    profile.Handle,
		"status":    profile.Status,
		"isAdmin":   profile.IsAdmin,
		"createdAt": profile.CreatedAt.Format(time.RFC3339),
	}
}
