package api

import (
	"errors"
	"net/http"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

type UserResponse struct {
	User *UserInfo `json:"user"`
}

type UserInfo struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// FUNCTIONAL DISCOVERY: POST /api/login - unknown email and wrong password
// are indistinguishable to the client
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	trimAll(&req.Email)
	if err := types.ValidateStruct(&req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	user, err := s.store.GetUser(r.Context(), req.Email)
	if errors.Is(err, interfaces.ErrUserNotFound) || (err == nil && user.CheckPassword(req.Password) != nil) {
		s.sendError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UserResponse{User: &UserInfo{Username: user.Username, Email: user.Email}})
}

// FUNCTIONAL DISCOVERY: POST /api/register - 400 when the email is taken
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	trimAll(&req.Email, &req.Username)
	if err := types.ValidateStruct(&req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	user := &types.User{Email: req.Email, Username: req.Username}
	if err := user.SetPassword(req.Password); err != nil {
		s.log.Error().Err(err).Msg("password hashing failed")
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.sendStoreError(w, r, err)
		return
	}

	s.log.Info().Str("email", user.Email).Msg("user registered")
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Registration successful"})
}
