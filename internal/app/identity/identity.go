/*
Package identity manages registration, login, and the pending-to-approved
account lifecycle.

This file defines the Controller, which owns the two-sided profile layout in
the store (private copy under the authID, public copy under the folded handle)
and the approval gate. One distinguished profile, the first registration of the
reserved "admin" handle, is auto-approved and flagged administrator.
*/
package identity

import (
	"context"
	"errors"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
)

// credentialDomain is the private namespace appended to a folded handle to
// form the verifier's internal identifier, so the verifier never stores a raw
// handle as a login key.
const credentialDomain = "@kwite.chat"

var handleRegex = regexp.MustCompile(`^[a-z0-9_]{2,20}$`)

// AccessState is the derived access level of a session.
type AccessState string

const (
	AccessLoggedOut AccessState = "logged_out"
	AccessPending   AccessState = "pending"
	AccessApproved  AccessState = "approved"
	AccessAdmin     AccessState = "admin"
)

// Controller implements the identity and access operations over the store and
// the credential verifier.
type Controller struct {
	store    store.Store
	verifier Verifier
	logger   zerolog.Logger

	// now is the profile creation clock; injectable for tests.
	now func() time.Time
}

// NewController constructs a Controller.
func NewController(st store.Store, verifier Verifier) *Controller {
	return &Controller{
		store:    st,
		verifier: verifier,
		logger:   logx.Logger().With().Str("component", "identity").Logger(),
		now:      time.Now,
	}
}

// credentialID maps a folded handle into the verifier's private namespace.
func credentialID(foldedHandle string) string {
	return foldedHandle + credentialDomain
}

// Register creates a verifier credential and writes the profile record twice:
// privately under the new authID and publicly under the folded handle. The
// public directory write uses Create, so the first registration of a handle
// wins atomically. The first-ever registration of the reserved admin handle is
// auto-approved and flagged admin; everyone else starts pending.
//
// The credential write and the two profile writes are not one transaction; a
// crash in between can leave a credential without a directory entry. See
// DESIGN.md for the documented recovery semantics.
func (c *Controller) Register(ctx context.Context, handle, secret string) (user.Profile, *errs.CustomError) {
	folded := user.FoldHandle(handle)

	if !handleRegex.MatchString(folded) {
		return user.Profile{}, errs.NewError(errs.ErrInvalidHandle)
	}

	if utf8.RuneCountInString(secret) < 6 || len(secret) > 72 {
		return user.Profile{}, errs.NewError(errs.ErrWeakSecret)
	}

	// Fail fast on a taken handle before minting a credential. The Create on
	// the public entry below is the authoritative uniqueness claim.
	_, err := c.store.Get(ctx, store.DirectoryKey(folded))
	if err == nil {
		return user.Profile{}, errs.NewError(errs.ErrHandleTaken)
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.logger.Error().Err(err).Str("handle", folded).Msg("Directory lookup failed during registration.")
		return user.Profile{}, errs.NewError(errs.ErrUnknown)
	}

	authID, err := c.verifier.CreateCredential(ctx, credentialID(folded), secret)
	if err != nil {
		if errors.Is(err, ErrCredentialExists) {
			return user.Profile{}, errs.NewError(errs.ErrHandleTaken)
		}
		c.logger.Error().Err(err).Str("handle", folded).Msg("Verifier rejected credential creation.")
		return user.Profile{}, errs.NewError(errs.ErrUnknown)
	}

	isAdmin := folded == user.ReservedAdminHandle

	profile := user.Profile{
		Handle:    handle,
		AuthID:    authID,
		Status:    user.StatusPending,
		IsAdmin:   isAdmin,
		CreatedAt: c.now(),
	}
	if isAdmin {
		profile.Status = user.StatusApproved
	}

	data, encErr := profile.Encode()
	if encErr != nil {
		c.logger.Error().Err(encErr).Str("handle", folded).Msg("Profile encoding failed.")
		return user.Profile{}, errs.NewError(errs.ErrUnknown)
	}

	if _, err := c.store.Put(ctx, store.ProfileKey(authID), data); err != nil {
		c.logger.Error().Err(err).Str("handle", folded).Msg("Private profile write failed during registration.")
		return user.Profile{}, errs.NewError(errs.ErrStoreUnavailable)
	}

	if _, err := c.store.Create(ctx, store.DirectoryKey(folded), data); err != nil {
		if errors.Is(err, store.ErrKeyExists) {
			// Lost a registration race after the credential was minted. The
			// orphaned credential is unreachable because its directory entry
			// belongs to the winner.
			return user.Profile{}, errs.NewError(errs.ErrHandleTaken)
		}
		c.logger.Error().Err(err).Str("handle", folded).Msg("Directory entry write failed during registration.")
		return user.Profile{}, errs.NewError(errs.ErrStoreUnavailable)
	}

	c.logger.Info().Str("handle", folded).Bool("is_admin", isAdmin).Msg("Account registered.")

	return profile, nil
}

// Login verifies the handle/secret pair and returns the caller's private
// profile. Every failure, including a store or verifier outage, surfaces as
// the same generic credential error.
func (c *Controller) Login(ctx context.Context, handle, secret string) (user.Profile, *errs.CustomError) {
	folded := user.FoldHandle(handle)
	if folded == "" {
		return user.Profile{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	authID, err := c.verifier.VerifyCredential(ctx, credentialID(folded), secret)
	if err != nil {
		c.logger.Warn().Str("handle", folded).Msg("Login rejected by verifier.")
		return user.Profile{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	doc, err := c.store.Get(ctx, store.ProfileKey(authID))
	if err != nil {
		c.logger.Warn().Err(err).Str("handle", folded).Msg("Private profile missing at login.")
		return user.Profile{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	profile, err := user.DecodeProfile(doc.Data)
	if err != nil {
		c.logger.Error().Err(err).Str("handle", folded).Msg("Stored profile failed to decode at login.")
		return user.Profile{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	return profile, nil
}

// Approve flips the target's status to approved on both profile copies. Only
// an admin caller may approve. The two writes are deliberately not one
// transaction; the public copy is written first because directory listings
// drive the admin's pending queue, and a retry of the same call is a no-op.
func (c *Controller) Approve(ctx context.Context, caller user.Profile, targetHandle string) *errs.CustomError {
	if !caller.IsAdmin {
		return errs.NewError(errs.ErrNotAdmin)
	}

	folded := user.FoldHandle(targetHandle)

	approve := func(data []byte) ([]byte, error) {
		profile, err := user.DecodeProfile(data)
		if err != nil {
			return nil, err
		}
		profile.Status = user.StatusApproved
		return profile.Encode()
	}

	doc, err := c.store.Update(ctx, store.DirectoryKey(folded), approve)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.NewError(errs.ErrUserNotFound)
		}
		c.logger.Error().Err(err).Str("handle", folded).Msg("Directory entry approval write failed.")
		return errs.NewError(errs.ErrStoreUnavailable)
	}

	profile, err := user.DecodeProfile(doc.Data)
	if err != nil {
		c.logger.Error().Err(err).Str("handle", folded).Msg("Directory entry failed to decode during approval.")
		return errs.NewError(errs.ErrUnknown)
	}

	if _, err := c.store.Update(ctx, store.ProfileKey(profile.AuthID), approve); err != nil {
		c.logger.Error().Err(err).Str("handle", folded).Msg("Private profile approval write failed. Directory copy already approved.")
		return errs.NewError(errs.ErrStoreUnavailable)
	}

	c.logger.Info().Str("handle", folded).Str("approved_by", caller.FoldedHandle()).Msg("Account approved.")

	return nil
}

// CurrentAccessState derives the access level for a profile snapshot. It is a
// pure function with no side effects; a nil profile means no session.
func CurrentAccessState(p *user.Profile) AccessState {
	switch {
	case p == nil:
		return AccessLoggedOut
	case p.IsAdmin:
		return AccessAdmin
	case p.Status == user.StatusApproved:
		return AccessApproved
	default:
		return AccessPending
	}
}
