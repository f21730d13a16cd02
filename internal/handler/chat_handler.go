/*
This file contains the REST conversation handlers: sending a message and
fetching the ordered conversation with a counterpart. They mirror the
websocket frames for clients that have not upgraded yet.
*/
package handler

import (
	"net/http"

	"kwite/internal/app/chat"
	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
	"kwite/internal/pkg/req"
	"kwite/internal/pkg/resp"
)

type SendMessageInput struct {
	Receiver string         `json:"receiver"`
	Body     string         `json:"body"`
	ReplyTo  *chat.ReplyRef `json:"replyTo,omitempty"`
}

// HandleSendMessage appends a message from the caller to the receiver.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, customErr := callerProfile(deps, r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var input SendMessageInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msg, customErr := deps.Engine.Send(r.Context(), caller, input.Receiver, input.Body, input.ReplyTo)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"message": msg})
	}
}

// HandleGetConversation returns the ordered conversation between the caller
// and the counterpart named by the "with" query parameter.
func HandleGetConversation(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, customErr := callerProfile(deps, r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		counterpart := user.FoldHandle(r.URL.Query().Get("with"))
		if counterpart == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		docs, err := deps.Store.List(r.Context(), store.MessagesPrefix)
		if err != nil {
			logx.Error(err, "message log listing failed", "handle", caller.FoldedHandle())
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		conversation := chat.SelectConversation(chat.DecodeMessages(docs), caller.FoldedHandle(), counterpart)

		resp.RespondSuccess(w, r, map[string]any{
			"with":     counterpart,
			"messages": conversation,
		})
	}
}
