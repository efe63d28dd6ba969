package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/message"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 500
)

type MessageInput struct {
	Content string `json:"content"`
}

// HandleListMessages returns the most recent messages of all users, newest first.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultMessageLimit

		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = min(n, maxMessageLimit)
		}

		messages, err := deps.Store.RecentMessages(r.Context(), limit)
		if err != nil {
			logx.Error(err, "failed to list messages")
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		if messages == nil {
			messages = []message.Message{}
		}

		resp.RespondSuccess(w, r, messages)
	}
}

// HandleCreateMessages stores one message, or several when the body is an array,
// with the caller as sender and no recipient.
func HandleCreateMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		inputs, batch, customErr := req.BindOneOrMany[MessageInput](r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		for _, input := range inputs {
			if strings.TrimSpace(input.Content) == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentEmpty).WithStatus(http.StatusBadRequest))
				return
			}
			if len(input.Content) > chat.MaxContentBytes {
				resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentTooLong, chat.MaxContentBytes).WithStatus(http.StatusBadRequest))
				return
			}
		}

		now := time.Now().UTC()
		stored := make([]message.Message, 0, len(inputs))

		for _, input := range inputs {
			m, err := deps.Store.InsertMessage(r.Context(), message.Draft{
				SenderID:  payload.ID,
				Content:   input.Content,
				Timestamp: now,
			})
			if err != nil {
				logx.Error(err, "failed to store message", "user_id", payload.ID)
				resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
				return
			}

			m.SenderName = payload.Username
			stored = append(stored, m)
		}

		if batch {
			resp.RespondCreated(w, r, stored)
			return
		}
		resp.RespondCreated(w, r, stored[0])
	}
}
