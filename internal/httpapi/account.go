package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"recipe-box/internal/apperr"
	"recipe-box/internal/auth"
	"recipe-box/internal/httputil"
	"recipe-box/internal/user"
)

const linkCodeTTL = 15 * time.Minute

type meResponse struct {
	User           *user.User `json:"user"`
	Pro            bool       `json:"pro"`
	RecipeCount    int        `json:"recipe_count"`
	AIRemaining    int        `json:"ai_generations_remaining"`
	TelegramLinked bool       `json:"telegram_linked"`
}

func (a *api) getMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, err := a.Users.Get(ctx, userID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	count, err := a.Recipes.CountByUser(ctx, u.ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	remaining, err := a.Library.Remaining(ctx, u)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, meResponse{
		User:           u,
		Pro:            u.IsPro(),
		RecipeCount:    count,
		AIRemaining:    remaining,
		TelegramLinked: u.TelegramChatID != nil,
	})
}

func (a *api) deleteMe(w http.ResponseWriter, r *http.Request) {
	if err := a.Library.DeleteAccount(r.Context(), userID(r)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: auth.SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

type telegramLinkResponse struct {
	URL       string    `json:"url"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// linkTelegram hands out a deep link; opening it sends "/start <code>" to
// the bot, which links the chat.
func (a *api) linkTelegram(w http.ResponseWriter, r *http.Request) {
	if a.Bot == nil || a.BotUsername == "" {
		httputil.WriteError(w, r, apperr.NotConfigured("telegram"))
		return
	}
	code, expires, err := a.LinkCodes.IssueLinkCode(userID(r), linkCodeTTL)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	link := "https://t.me/" + url.PathEscape(a.BotUsername) + "?start=" + url.QueryEscape(code)
	httputil.WriteJSON(w, http.StatusOK, telegramLinkResponse{URL: link, Code: code, ExpiresAt: expires})
}

func (a *api) unlinkTelegram(w http.ResponseWriter, r *http.Request) {
	if err := a.Users.SetTelegramChat(r.Context(), userID(r), nil); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (a *api) registerPushToken(w http.ResponseWriter, r *http.Request) {
	var req pushTokenRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	t, err := a.PushTokens.Register(r.Context(), userID(r), req.Token, req.Platform)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (a *api) unregisterPushToken(w http.ResponseWriter, r *http.Request) {
	if err := a.PushTokens.Unregister(r.Context(), userID(r), pathVar(r, "token")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
