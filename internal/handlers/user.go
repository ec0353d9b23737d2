package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth/gothic"

	"github.com/petermazzocco/recipe-media/internal/auth"
	"github.com/petermazzocco/recipe-media/internal/logger"
	"github.com/petermazzocco/recipe-media/models"
)

// UserStore finds or creates users signing in through an OAuth provider.
type UserStore interface {
	UpsertUser(ctx context.Context, u models.User) (models.User, error)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type loginResponse struct {
	User   auth.Principal `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

// withProvider hands the chi route parameter to gothic.
func withProvider(r *http.Request) *http.Request {
	return gothic.GetContextWithProvider(r, chi.URLParam(r, "provider"))
}

func BeginAuthHandler(w http.ResponseWriter, r *http.Request) {
	gothic.BeginAuthHandler(w, withProvider(r))
}

// UserLoginHandler completes the provider callback, upserts the user and answers with a token pair.
func UserLoginHandler(w http.ResponseWriter, r *http.Request, users UserStore, issuer *auth.Issuer) {
	log := logger.FromContext(r.Context())
	r = withProvider(r)

	gothUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		log.Warn("oauth callback failed", slog.Any("error", err))
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication with the provider failed")
		return
	}
	if gothUser.Email == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Provider did not return an email address")
		return
	}

	user, err := users.UpsertUser(r.Context(), models.User{
		Name:           gothUser.Name,
		Email:          gothUser.Email,
		Provider:       gothUser.Provider,
		ProviderUserID: gothUser.UserID,
	})
	if err != nil {
		writeInternal(w, r, "upsert user failed", err)
		return
	}

	p := auth.Principal{UserID: strconv.FormatUint(uint64(user.ID), 10), Email: user.Email}
	pair, err := issuer.Issue(p)
	if err != nil {
		writeInternal(w, r, "issue token failed", err)
		return
	}
	log.Info("user signed in", slog.String("user", p.UserID), slog.String("provider", gothUser.Provider))
	writeData(w, http.StatusOK, "Signed in", loginResponse{User: p, Tokens: pair})
}

func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := gothic.Logout(w, withProvider(r)); err != nil {
		logger.FromContext(r.Context()).Debug("logout without session", slog.Any("error", err))
	}
	writeData(w, http.StatusOK, "Signed out", nil)
}

func RefreshTokenHandler(w http.ResponseWriter, r *http.Request, issuer *auth.Issuer) {
	var req refreshRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, errValidation, msg)
		return
	}

	pair, err := issuer.Refresh(req.RefreshToken)
	if err != nil {
		msg := "Invalid refresh token"
		if errors.Is(err, auth.ErrExpiredToken) {
			msg = "Refresh token expired"
		}
		writeError(w, http.StatusUnauthorized, "Unauthorized", msg)
		return
	}
	writeData(w, http.StatusOK, "", pair)
}

// GetUserHandler returns the principal of the current bearer token.
func GetUserHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Access token required")
		return
	}
	writeData(w, http.StatusOK, "", p)
}
