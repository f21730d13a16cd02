package handler

import (
	"errors"
	"net/http"

	"kwite/internal/app/chat"
	"kwite/internal/app/identity"
	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/configs"
	"kwite/internal/pkg/auth/jwt"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
)

type AppDeps struct {
	Store    store.Store
	Identity *identity.Controller
	Engine   *chat.Engine
	Config   *configs.AppConfig
}

// callerProfile loads the authenticated caller's private profile. A missing
// token, a stale token, or a decode failure all read as "not signed in".
func callerProfile(deps *AppDeps, r *http.Request) (user.Profile, *errs.CustomError) {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil {
		return user.Profile{}, errs.NewError(errs.ErrUnauthorized)
	}

	doc, err := deps.Store.Get(r.Context(), store.ProfileKey(payload.AuthID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return user.Profile{}, errs.NewError(errs.ErrUnauthorized)
		}
		logx.Error(err, "caller profile lookup failed", "auth_id", payload.AuthID)
		return user.Profile{}, errs.NewError(errs.ErrStoreUnavailable)
	}

	profile, err := user.DecodeProfile(doc.Data)
	if err != nil {
		logx.Error(err, "caller profile failed to decode", "auth_id", payload.AuthID)
		return user.Profile{}, errs.NewError(errs.ErrUnauthorized)
	}

	return profile, nil
}
