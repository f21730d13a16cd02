/*
This file contains the administrator handlers: approving pending accounts and
listing the directory partitioned into pending requests and active users.
*/
package handler

import (
	"net/http"
	"time"

	"kwite/internal/app/chat"
	"kwite/internal/app/presence"
	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
	"kwite/internal/pkg/req"
	"kwite/internal/pkg/resp"
)

type ApproveInput struct {
	Handle string `json:"handle"`
}

// HandleApprove flips a pending account to approved. Admin only. Approving an
// already-approved account is a no-op success, so retries are safe.
func HandleApprove(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, customErr := callerProfile(deps, r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var input ApproveInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Handle == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if customErr := deps.Identity.Approve(r.Context(), caller, input.Handle); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"handle": user.FoldHandle(input.Handle),
			"status": user.StatusApproved,
		})
	}
}

// HandleGetDirectory returns the caller's visible directory. An admin sees all
// other profiles split into pending and active; everyone else sees only the
// current administrator. Presence is derived per entry at response time.
func HandleGetDirectory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, customErr := callerProfile(deps, r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		docs, err := deps.Store.List(r.Context(), store.DirectoryPrefix)
		if err != nil {
			logx.Error(err, "directory listing failed", "handle", caller.FoldedHandle())
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		bodies := make([][]byte, 0, len(docs))
		for _, doc := range docs {
			bodies = append(bodies, doc.Data)
		}
		profiles := user.DecodeProfiles(bodies)

		selfFolded := caller.FoldedHandle()
		now := time.Now()

		if caller.IsAdmin {
			pending, active := chat.PartitionDirectory(profiles, selfFolded)
			resp.RespondSuccess(w, r, map[string]any{
				"pending": directoryView(pending, selfFolded, now),
				"active":  directoryView(active, selfFolded, now),
			})
			return
		}

		admin, found := chat.ResolveAdmin(profiles)
		if !found {
			resp.RespondSuccess(w, r, map[string]any{"admin": nil})
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"admin": directoryEntry(admin, selfFolded, now),
		})
	}
}

// directoryEntry is the public shape of one profile, including its derived
// presence as seen by the viewer. AuthID never leaves the server here.
func directoryEntry(p user.Profile, viewerFolded string, now time.Time) map[string]any {
	return map[string]any{
		"handle":  p.Handle,
		"status":  p.Status,
		"isAdmin": p.IsAdmin,
		"presence": presence.DeriveStatus(p, viewerFolded, now),
	}
}

func directoryView(profiles []user.Profile, viewerFolded string, now time.Time) []map[string]any {
	entries := make([]map[string]any, 0, len(profiles))
	for _, p := range profiles {
		entries = append(entries, directoryEntry(p, viewerFolded, now))
	}
	return entries
}
