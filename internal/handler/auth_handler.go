/*
Package handler provides HTTP handler functions for user registration, login and the user list.
*/
package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"relaychat/internal/app/db"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt ignores anything longer

	// userListLimit is the number of users returned by the user list.
	userListLimit = 10

	resultSuccess = "success"
	resultError   = "error"
)

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AccountView is the public part of a user returned after register and login.
type AccountView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AuthResult is the outcome of one registration or a login.
type AuthResult struct {
	Status  string       `json:"status"`
	Token   string       `json:"token,omitempty"`
	User    *AccountView `json:"user,omitempty"`
	Email   string       `json:"email,omitempty"`
	Message string       `json:"message,omitempty"`
}

// UserSummary is one entry of the user list.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	LastMessage string `json:"lastMessage"`
	Online      bool   `json:"online"`
}

// normalizeEmail validates a bare address and returns it lowercased.
func normalizeEmail(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)

	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", false
	}

	return strings.ToLower(addr.Address), true
}

func validateRegistration(input *RegisterInput) *errs.CustomError {
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" {
		return errs.NewError(errs.ErrInvalidUsername)
	}

	email, ok := normalizeEmail(input.Email)
	if !ok {
		return errs.NewError(errs.ErrInvalidEmail)
	}
	input.Email = email

	passwordLen := utf8.RuneCountInString(input.Password)
	if passwordLen < minPasswordLen || len(input.Password) > maxPasswordLen {
		return errs.NewError(errs.ErrInvalidPassword)
	}

	return nil
}

// HandleRegister creates one account, or several when the body is an array.
// Every entry is validated before any account is created. In a batch a taken
// email is reported per entry; for a single entry it fails the request.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inputs, batch, customErr := req.BindOneOrMany[RegisterInput](r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		for i := range inputs {
			if customErr := validateRegistration(&inputs[i]); customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
		}

		results := make([]AuthResult, 0, len(inputs))

		for _, input := range inputs {
			hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
			if err != nil {
				logx.Error(err, "failed to hash password")
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}

			account, err := deps.Store.CreateUser(r.Context(), user.Draft{
				Username:     input.Username,
				Email:        input.Email,
				PasswordHash: string(hashedPassword),
			})
			if err != nil {
				if errors.Is(err, db.ErrDuplicate) {
					logx.Warn("registration conflict: email already used")

					if !batch {
						resp.RespondError(w, r, errs.NewError(errs.ErrEmailAlreadyUsed))
						return
					}

					results = append(results, AuthResult{
						Status:  resultError,
						Email:   input.Email,
						Message: errs.NewError(errs.ErrEmailAlreadyUsed).Message,
					})
					continue
				}

				logx.Error(err, "failed to create user")
				resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
				return
			}

			result, customErr := issueToken(deps, account)
			if customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}

			logx.Info("user registered", "user_id", account.ID)
			results = append(results, result)
		}

		if batch {
			resp.RespondCreated(w, r, results)
			return
		}
		resp.RespondCreated(w, r, results[0])
	}
}

// HandleLogin verifies credentials and issues a token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		email, ok := normalizeEmail(input.Email)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidEmail))
			return
		}

		if input.Password == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		account, err := deps.Store.UserByEmail(r.Context(), email)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
				return
			}

			logx.Error(err, "failed to load user for login")
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(input.Password)); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		result, customErr := issueToken(deps, account)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, result)
	}
}

// HandleListUsers returns the first accounts with their last message and presence.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Store.ListUsers(r.Context(), userListLimit)
		if err != nil {
			logx.Error(err, "failed to list users")
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		summaries := make([]UserSummary, 0, len(accounts))
		for _, account := range accounts {
			summaries = append(summaries, UserSummary{
				ID:          account.ID,
				Username:    account.Username,
				LastMessage: account.LastMessageOrDefault(),
				Online:      deps.Hub.IsOnline(account.ID),
			})
		}

		resp.RespondSuccess(w, r, summaries)
	}
}

func issueToken(deps *AppDeps, account user.User) (AuthResult, *errs.CustomError) {
	payload := &jwt.Payload{
		ID:       account.ID,
		Username: account.Username,
	}

	tokenString, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.UserIdentityExpiration)
	if err != nil {
		logx.Error(err, "failed to generate token", "user_id", account.ID)
		return AuthResult{}, errs.NewError(errs.ErrUnknown)
	}

	return AuthResult{
		Status: resultSuccess,
		Token:  tokenString,
		User: &AccountView{
			ID:       account.ID,
			Username: account.Username,
			Email:    account.Email,
		},
	}, nil
}
