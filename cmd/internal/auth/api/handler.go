// Package authapi wires HTTP credential endpoints to the session service.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"

	"tether/cmd/internal/auth/session"
)

// IssueObserver is notified on successful credential issuance (metrics hook).
type IssueObserver func()

// Handler exposes the credential endpoints:
// issuance, refresh, and device unlink.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	onIssue  IssueObserver
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithIssueObserver registers a callback fired after each successful issuance.
func WithIssueObserver(fn IssueObserver) HandlerOption {
	return func(h *Handler) {
		if h == nil || fn == nil {
			return
		}
		h.onIssue = fn
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{log: log, cfg: cfg, sessions: sessions}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/token", h.handleIssue)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/unlink", h.handleUnlink)
}

// ---- handlers ----

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueRequest
	if rerr := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); rerr != nil {
		writeRequestError(w, rerr)
		return
	}

	issued, err := h.sessions.VerifyAndIssue(r.Context(), req.IdentityAssertion, req.DeviceClass)
	if err != nil {
		if errors.Is(err, session.ErrVerificationFailed) {
			// Same generic message for every verification failure.
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		h.log.Error("auth.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if h.onIssue != nil {
		h.onIssue()
	}

	writeJSON(w, http.StatusOK, issueResponse{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		DeviceID:     issued.DeviceID,
		UserEmail:    issued.User.Email,
		UserName:     issued.User.DisplayName,
		UserPhotoURL: issued.User.AvatarURL,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if rerr := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); rerr != nil {
		writeRequestError(w, rerr)
		return
	}

	access, _, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token")
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access})
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req unlinkRequest
	if rerr := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); rerr != nil {
		writeRequestError(w, rerr)
		return
	}

	// Idempotent: unlinking an unknown device acknowledges success.
	if err := h.sessions.Unlink(r.Context(), req.DeviceID); err != nil {
		h.log.Error("auth.unlink.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, unlinkResponse{OK: true})
}
