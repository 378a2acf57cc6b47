package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/jonathan/design2code/internal/export"
	"github.com/jonathan/design2code/internal/types"
)

func (s *Server) zipResponse(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warnw("failed to write archive", "filename", filename, "error", err)
	}
}

// handleExport downloads a stored generation as a zip archive.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
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

	bundle, err := s.deps.Generations.Bundle(r.Context(), userID, id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	data, err := export.Bundle(bundle)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.zipResponse(w, export.BundleFilename(bundle), data)
}

// handleExportZip archives a caller-supplied file list.
func (s *Server) handleExportZip(w http.ResponseWriter, r *http.Request) {
	if _, err := requestUser(r); err != nil {
		s.errorResponse(w, err)
		return
	}

	var req types.ExportZipRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, err)
		return
	}

	data, err := export.Zip(req.Files, s.deps.Now())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.zipResponse(w, export.SanitizeFilename(req.Filename), data)
}
