// Package gatehttp exposes the session core to the UI shell over a local JSON API.
package gatehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miciudad/miciudad/internal/gate"
	"github.com/miciudad/miciudad/internal/platform/httpx"
	"github.com/miciudad/miciudad/internal/securestore"
	"github.com/miciudad/miciudad/internal/session"
	"github.com/miciudad/miciudad/internal/users"
)

// Handler serves session and navigation endpoints.
type Handler struct {
	logger *slog.Logger
	gate   *gate.Gate
	store  *session.Store
	kv     securestore.KV
}

// NewHandler builds a Handler. kv backs the device id endpoint.
func NewHandler(logger *slog.Logger, g *gate.Gate, store *session.Store, kv securestore.KV) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, gate: g, store: store, kv: kv}
}

// MountRoutes registers the session endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.getSession)
	r.Post("/session/actions", h.postAction)
	r.Post("/session/sign-in", h.postSignIn)
	r.Post("/session/sign-out", h.postSignOut)
	r.Get("/navigation", h.getNavigation)
	r.Get("/device", h.getDevice)
}

type sessionResponse struct {
	session.State
	SignedIn       bool       `json:"signed_in"`
	DisplayName    string     `json:"display_name,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

type navigationResponse struct {
	gate.Selection
	Restored     bool   `json:"restored"`
	RestoreError string `json:"restore_error,omitempty"`
	Mounts       int    `json:"mounts"`
}

type actionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type signInRequest struct {
	User         *users.User `json:"user"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) getNavigation(w http.ResponseWriter, r *http.Request) {
	resp := navigationResponse{
		Selection: h.gate.Selection(),
		Restored:  h.gate.Restored(),
		Mounts:    h.gate.Mounts(),
	}
	if err := h.gate.RestoreErr(); err != nil {
		resp.RestoreError = err.Error()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) postAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Type == "" {
		httpx.RespondError(w, fmt.Errorf("%w: type required", httpx.ErrValidation))
		return
	}
	action, err := session.DecodeAction(req.Type, req.Payload)
	if err != nil {
		h.respond(w, err)
		return
	}
	h.dispatch(w, r, action)
}

func (h *Handler) postSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.dispatch(w, r, session.SignIn{User: req.User, Token: req.Token, RefreshToken: req.RefreshToken})
}

func (h *Handler) postSignOut(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, session.SignOut{})
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	id, err := securestore.DeviceID(r.Context(), h.kv)
	if err != nil {
		h.logger.Error("device id", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"device_id": id})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, a session.Action) {
	if err := h.gate.Dispatch(r.Context(), a); err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) snapshot() sessionResponse {
	st := h.store.State()
	resp := sessionResponse{State: st, SignedIn: st.SignedIn(), DisplayName: st.User.DisplayName()}
	if exp, ok := session.TokenExpiry(st.Token); ok {
		resp.TokenExpiresAt = &exp
	}
	return resp
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidPayload), errors.Is(err, users.ErrInvalidUser):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, gate.ErrNotStarted), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
	default:
		h.logger.Error("dispatch session action", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
