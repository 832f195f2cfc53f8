package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tokens"
	"github.com/go-chi/chi/v5"
)

// StateTTL is how long an issued OAuth state stays valid.
const StateTTL = 10 * time.Minute

// Callback error codes appended to the frontend redirect.
const (
	ErrCodeInvalidToken  = "invalid_token"
	ErrCodeStateMismatch = "state_mismatch"
	ErrCodeStorage       = "storage_error"
)

// APIConfig holds the dependencies of [API].
type APIConfig struct {
	Auth         services.AuthProvider
	Store        *tokens.Store
	Refresher    Refresher
	Coordinator  Coordinator
	FrontendURL  string
	CallbackPath string
	Logger       *log.Logger
}

// API serves the browser widget's endpoints.
type API struct {
	auth         services.AuthProvider
	store        *tokens.Store
	refresher    Refresher
	coordinator  Coordinator
	states       *StateSet
	frontendURL  string
	callbackPath string
	logger       *log.Logger
}

func NewAPI(cfg APIConfig) *API {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}
	return &API{
		auth:         cfg.Auth,
		store:        cfg.Store,
		refresher:    cfg.Refresher,
		coordinator:  cfg.Coordinator,
		states:       NewStateSet(StateTTL, nil),
		frontendURL:  cfg.FrontendURL,
		callbackPath: cfg.CallbackPath,
		logger:       shared.WithLogger(cfg.Logger, "component", "api"),
	}
}

// Mount registers every route on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/health", a.Health)
	r.Get("/login", a.Login)
	r.Get(a.callbackPath, a.Callback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/now-playing", a.NowPlaying)
		r.Post("/refresh-token", a.RefreshToken)
		r.Post("/retry", a.Retry)
		r.Post("/logout", a.Logout)
		r.Post("/activity", a.Activity)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type nowPlayingResponse struct {
	models.PlaybackSnapshot
	State     models.State `json:"state"`
	Loading   bool         `json:"loading"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Health reports liveness and the coordinator state.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"state":         a.coordinator.State(),
		"authenticated": a.store.IsValid(r.Context()),
	})
}

// Login returns the consent page URL.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	state, err := a.states.Issue()
	if err != nil {
		a.logger.Error("failed to issue state", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to start login"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": a.auth.AuthURL(state)})
}

// Callback completes the authorization code flow and hands the credential to the coordinator.
func (a *API) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		a.logger.Warn("authorization denied", "error", e, "description", q.Get("error_description"))
		a.redirect(w, r, ErrCodeInvalidToken)
		return
	}
	if !a.states.Consume(q.Get("state")) {
		a.logger.Warn("callback with unknown state")
		a.redirect(w, r, ErrCodeStateMismatch)
		return
	}
	code := q.Get("code")
	if code == "" {
		a.redirect(w, r, ErrCodeInvalidToken)
		return
	}

	cred, err := a.auth.Exchange(r.Context(), code)
	if err != nil {
		a.logger.Error("error getting tokens", "error", err)
		a.redirect(w, r, ErrCodeInvalidToken)
		return
	}
	if err := a.store.Save(r.Context(), *cred); err != nil {
		a.logger.Error("failed to save credential", "error", err)
		a.redirect(w, r, ErrCodeStorage)
		return
	}

	a.logger.Info("logged in", "expires_in", cred.ExpiresInSeconds)
	a.coordinator.Login()
	a.redirect(w, r, "")
}

// redirect sends the browser back to the frontend, with an error code on failure.
// Without a frontend a plain page is served instead.
func (a *API) redirect(w http.ResponseWriter, r *http.Request, errCode string) {
	if a.frontendURL == "" {
		if errCode != "" {
			http.Error(w, "Authorization failed: "+errCode, http.StatusBadRequest)
			return
		}
		writeSuccessPage(w)
		return
	}

	target, err := url.Parse(a.frontendURL)
	if err != nil {
		http.Error(w, "Invalid frontend URL", http.StatusInternalServerError)
		return
	}
	if errCode != "" {
		q := target.Query()
		q.Set("error", errCode)
		target.RawQuery = q.Encode()
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// NowPlaying returns the latest coordinator update. Logged out sessions get 401.
func (a *API) NowPlaying(w http.ResponseWriter, r *http.Request) {
	u := a.coordinator.Last()

	resp := nowPlayingResponse{State: u.State, Loading: u.Loading, Message: u.Message}
	if u.Snapshot != nil {
		resp.PlaybackSnapshot = *u.Snapshot
	}
	if u.Err != nil {
		resp.Error = u.Message
		resp.Retryable = u.Retryable()
	}

	status := http.StatusOK
	if u.State == models.LoggedOut {
		status = http.StatusUnauthorized
		if resp.Error == "" {
			resp.Error = "Not logged in"
		}
	}
	writeJSON(w, status, resp)
}

// RefreshToken runs a refresh through the shared refresher, so it never overlaps the coordinator's.
//
// The body may name a refresh token; otherwise the stored one is used.
func (a *API) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	refreshToken := req.RefreshToken
	if refreshToken == "" {
		if cred, err := a.store.Load(r.Context()); err == nil && cred != nil {
			refreshToken = cred.RefreshToken
		}
	}
	if refreshToken == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "No refresh token provided"})
		return
	}

	res, err := a.refresher.RefreshWith(r.Context(), refreshToken)
	if err != nil {
		a.logger.Error("error refreshing token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to refresh token"})
		return
	}

	cred := res.Credential
	if cred == nil {
		cred, err = a.store.Load(r.Context())
		if err != nil || cred == nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to refresh token"})
			return
		}
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: cred.AccessToken, ExpiresIn: cred.ExpiresInSeconds})
}

func (a *API) Retry(w http.ResponseWriter, r *http.Request) {
	a.coordinator.RetryNow()
	accepted(w)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	a.coordinator.Logout()
	accepted(w)
}

func (a *API) Activity(w http.ResponseWriter, r *http.Request) {
	a.coordinator.Activity()
	accepted(w)
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
