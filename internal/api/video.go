package api

import (
	"net/http"

	"campus/pkg/types"
)

type VideoUsersResponse struct {
	Users []*types.VideoUser `json:"users"`
}

func (s *Server) videoRegister(w http.ResponseWriter, r *http.Request) {
	var req VideoRegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	trimAll(&req.Username, &req.PeerID)
	if err := types.ValidateStruct(&req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	if err := s.presence.Join(req.Username, req.PeerID); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "success"})
}

func (s *Server) videoUsers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, VideoUsersResponse{Users: s.presence.List()})
}

// FUNCTIONAL DISCOVERY: leaving twice, or without having joined, still succeeds
func (s *Server) videoUnregister(w http.ResponseWriter, r *http.Request) {
	var req VideoUnregisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	trimAll(&req.Username)
	if err := types.ValidateStruct(&req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	s.presence.Leave(req.Username)
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "success"})
}
