package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/drawbridge/internal/auth"
	"github.com/wolfeidau/drawbridge/internal/store"
)

const (
	maxUserRecordBytes = 64 * 1024         // 64KiB
	maxTagBytes        = 256 * 1024 * 1024 // 256MiB
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", a.handleInfo)

	mux.HandleFunc("PUT /{user}", a.handlePutUser)
	mux.HandleFunc("GET /{user}", a.handleGetUser)

	mux.HandleFunc("PUT /{user}/{repo}", a.handlePutRepository)
	mux.HandleFunc("GET /{user}/{repo}", a.handleGetRepository)

	mux.HandleFunc("GET /{user}/{repo}/_tag", a.handleListTags)
	mux.HandleFunc("PUT /{user}/{repo}/_tag/{tag}", a.handlePutTag)
	mux.HandleFunc("GET /{user}/{repo}/_tag/{tag}", a.handleGetTag)

	return mux
}

type infoResponse struct {
	OIDC oidcInfo `json:"oidc"`
}

type oidcInfo struct {
	Label  string `json:"label"`
	Issuer string `json:"issuer"`
}

func (a *App) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{OIDC: oidcInfo{Label: a.oidc.Label}}
	if a.oidc.Issuer != nil {
		info.OIDC.Issuer = a.oidc.Issuer.String()
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handlePutUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}

	var rec store.UserRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUserRecordBytes)).Decode(&rec); err != nil {
		http.Error(w, "invalid user record", http.StatusBadRequest)
		return
	}

	// Users can only register themselves.
	if err := auth.AuthorizeWrite(id, rec.Subject); err != nil {
		writeError(w, r, err)
		return
	}

	if err := a.store.CreateUser(ctx, r.PathValue("user"), rec); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (a *App) handleGetUser(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.authorizeUser(w, r, auth.AuthorizeRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handlePutRepository(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeUser(w, r, auth.AuthorizeWrite); !ok {
		return
	}

	if err := a.store.CreateRepository(r.Context(), r.PathValue("user"), r.PathValue("repo")); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (a *App) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeUser(w, r, auth.AuthorizeRead); !ok {
		return
	}

	if err := a.store.StatRepository(r.Context(), r.PathValue("user"), r.PathValue("repo")); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (a *App) handleListTags(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeUser(w, r, auth.AuthorizeRead); !ok {
		return
	}

	tags, err := a.store.ListTags(r.Context(), r.PathValue("user"), r.PathValue("repo"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tags)
}

func (a *App) handlePutTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeUser(w, r, auth.AuthorizeWrite); !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxTagBytes)
	n, err := a.store.PutTag(r.Context(), r.PathValue("user"), r.PathValue("repo"), r.PathValue("tag"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("user", r.PathValue("user")).
		Str("repo", r.PathValue("repo")).
		Str("tag", r.PathValue("tag")).
		Int64("bytes", n).
		Msg("Tag stored")

	w.WriteHeader(http.StatusCreated)
}

func (a *App) handleGetTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeUser(w, r, auth.AuthorizeRead); !ok {
		return
	}

	rc, size, err := a.store.GetTag(r.Context(), r.PathValue("user"), r.PathValue("repo"), r.PathValue("tag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to write tag")
	}
}

// authorizeUser loads the user named in the path and checks the request
// identity against its owner. On failure the response has been written.
func (a *App) authorizeUser(w http.ResponseWriter, r *http.Request, check func(*auth.Identity, string) error) (*store.UserRecord, bool) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		writeError(w, r, auth.ErrUnauthenticated)
		return nil, false
	}

	rec, err := a.store.GetUser(ctx, r.PathValue("user"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	if err := check(id, rec.Subject); err != nil {
		writeError(w, r, err)
		return nil, false
	}

	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, store.ErrInvalidName):
		http.Error(w, "invalid name", http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		http.Error(w, "already exists", http.StatusConflict)
	case errors.Is(err, auth.ErrUnauthenticated):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.As(err, &maxBytes):
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
