package main

import (
	"net/http"

	"github.com/example/oauthapp/internal/oauth"
)

// HandleRegisterClient registers a client application.
func (a *App) HandleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	err := a.decodeRequest(r, &req)
	var client *oauth.Client
	if err == nil {
		client, err = a.svc.Clients.Register(r.Context(), req.ClientID, req.ClientSecret, req.Scope)
	}
	a.metrics.registrations.WithLabelValues("client", outcome(err)).Inc()
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, clientResponse{ClientID: client.ClientID, Scope: client.Scope})
}

// HandleRegisterUser registers a user under an authenticated client.
func (a *App) HandleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	err := a.decodeRequest(r, &req)
	var user *oauth.User
	if err == nil {
		user, err = a.svc.Users.Register(r.Context(), req.registration())
	}
	a.metrics.registrations.WithLabelValues("user", outcome(err)).Inc()
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		FullName: user.FullName,
		NPM:      user.NPM,
	})
}

// HandleToken runs the password grant.
func (a *App) HandleToken(w http.ResponseWriter, r *http.Request) {
	if !a.rateLimiter.Allow(rateKey(r)) {
		a.metrics.grants.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many token requests")
		return
	}
	var req tokenRequest
	if err := a.decodeRequest(r, &req); err != nil {
		a.metrics.grants.WithLabelValues(outcome(err)).Inc()
		a.writeFailure(w, r, err)
		return
	}

	resp, err := a.svc.Issuer.Issue(r.Context(), req.grant())
	a.metrics.grants.WithLabelValues(outcome(err)).Inc()
	// Neither grants nor their errors may be cached.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleResource describes the owner of the bearer token.
func (a *App) HandleResource(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		a.metrics.resources.WithLabelValues("invalid_token").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_token", "Bearer token required")
		return
	}

	res, err := a.svc.Resolver.Resolve(r.Context(), token)
	a.metrics.resources.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady pings the store.
func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.requestLog(r).WithError(err).Warn("store not ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
