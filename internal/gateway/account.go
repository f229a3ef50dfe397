package gateway

import (
	"net/http"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/auth"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(w, r, &body); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	grant, err := g.auth.Register(r.Context(), body.Username, body.Password)
	g.metrics.RecordRegistration(err == nil)
	if err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, grant)
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(w, r, &body); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	grant, err := g.auth.Login(r.Context(), body.Username, body.Password)
	// only credential rejections count as failed logins
	if err == nil || apierrKind(err) == apierr.KindUnauthorized {
		g.metrics.RecordLogin(err == nil)
	}
	if err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, grant)
}

// handleLogout revokes the presented bearer token.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	g.auth.Logout(auth.BearerToken(r.Header.Get(HeaderAuthorization)))
	g.writeJSON(w, http.StatusOK, okBody)
}
