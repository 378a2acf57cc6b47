package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/jonathan/design2code/internal/figma"
)

const previewCacheControl = "private, max-age=3600"

// handleListProjects returns the caller's projects, newest activity first.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	projects, err := s.deps.Generations.Projects(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"projects": projects})
}

// handleDeleteProject removes one of the caller's projects.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.deps.Generations.DeleteProject(r.Context(), userID, id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "deleted": 1})
}

// handleListProfiles returns the caller's generation profiles.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	profiles, err := s.deps.Generations.Profiles(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"profiles": profiles})
}

// previewNodeID accepts both the URL form (12-34) and the API form (12:34).
func previewNodeID(raw string) string {
	if strings.Contains(raw, ":") {
		return raw
	}
	return strings.ReplaceAll(raw, "-", ":")
}

// handleFigmaPreview streams the PNG render of a design node using the
// caller's stored token.
func (s *Server) handleFigmaPreview(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	q := r.URL.Query()
	fileKey := strings.TrimSpace(q.Get("fileKey"))
	rawNodeID := strings.TrimSpace(q.Get("nodeId"))
	if fileKey == "" || rawNodeID == "" {
		s.errorResponse(w, &ErrValidation{Field: "fileKey,nodeId", Message: "fileKey and nodeId are required"})
		return
	}
	nodeID := previewNodeID(rawNodeID)

	token, err := s.deps.Tokens.Get(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if token == "" {
		s.errorResponse(w, &ErrValidation{Field: "token", Message: "Add a Figma access token in settings to load previews."})
		return
	}

	img, err := s.deps.Figma.FetchNodeImage(r.Context(), userID, fileKey, nodeID, token)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if img == nil {
		s.errorResponse(w, &figma.Error{URL: fileKey, Message: "no image for node " + nodeID})
		return
	}
	png, err := base64.StdEncoding.DecodeString(img.PNGBase64)
	if err != nil {
		s.errorResponse(w, &figma.Error{URL: img.SourceImageURL, Message: "invalid image payload", Cause: err})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", previewCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.logger.Debugw("preview write failed", "error", err)
	}
}
