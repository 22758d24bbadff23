package httpapi

import (
	"net/http"
	"net/mail"
	"strings"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/ids"
)

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	OrganizationID string `json:"organizationId"`
}

func (req registerRequest) validate() string {
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return "email must be a valid address"
	}
	if len(req.Password) < auth.MinPasswordLength {
		return "password must be at least 6 characters"
	}
	if _, err := auth.ParseRole(req.Role); err != nil {
		return "role must be one of owner, admin, viewer"
	}
	if !ids.IsUUID(req.OrganizationID) {
		return "organizationId must be a UUID"
	}
	return ""
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}
	role, _ := auth.ParseRole(req.Role)
	session, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		Role:           role,
		OrganizationID: strings.TrimSpace(req.OrganizationID),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	session, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id == nil {
		unauthorized(w, r, "missing identity")
		return
	}
	user, err := a.auth.Validate(r.Context(), id.UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.View())
}
