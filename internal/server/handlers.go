package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/server/middleware"
	"github.com/jonathan/design2code/internal/types"
)

const maxBodyBytes = 10 << 20

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			s.logger.Warnw("health check failed", "error", err)
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// pathID parses the {id} path value.
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "id", Message: "must be a UUID"}
	}
	return id, nil
}

// requestUser returns the authenticated user, who is always present behind
// AuthMiddleware.
func requestUser(r *http.Request) (uuid.UUID, error) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		return uuid.Nil, &ErrUnauthorized{Message: "Sign in required."}
	}
	return userID, nil
}

// handleGenerate answers a create-generation request.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var req types.GenerateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.errorResponse(w, err)
		return
	}
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if err := req.Validate(); err != nil {
		s.errorResponse(w, err)
		return
	}

	resp, err := s.deps.Generations.Generate(r.Context(), userID, req)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleStatus returns a generation and its job, running a due job inline.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
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

	resp, err := s.deps.Generations.Status(r.Context(), userID, id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleKick makes a pending job due now. Callers without a session may
// present the cron secret in the body or as a bearer token.
func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	userID, err := middleware.GetUserID(r)
	if err != nil {
		var req types.KickRequest
		if err := decodeJSON(r, &req, true); err != nil {
			s.errorResponse(w, err)
			return
		}
		token := req.Token
		if token == "" {
			token = middleware.BearerToken(r)
		}
		if !s.cronSecretMatches(token) {
			s.errorResponse(w, &ErrUnauthorized{Message: "Sign in or provide the cron secret."})
			return
		}
		userID = uuid.Nil
	}

	if err := s.deps.Generations.Kick(r.Context(), userID, id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRegenerate starts a fresh run. Browsers get a 303; API clients
// asking for JSON get the outcome payload.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
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

	out, err := s.deps.Generations.Regenerate(r.Context(), userID, id, wantsJSON(r))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if out.IsRedirect() {
		http.Redirect(w, r, out.Location(), http.StatusSeeOther)
		return
	}
	s.jsonResponse(w, http.StatusOK, out.Payload())
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// handleCancel cancels a pending job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
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

	job, err := s.deps.Generations.Cancel(r.Context(), userID, id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

// handleBundle returns a generation with its project, files and mappings.
func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
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
	s.jsonResponse(w, http.StatusOK, bundle)
}

// handleCron runs the batch trigger. The platform scheduler authenticates
// with its header; anyone else needs the shared secret.
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	header := s.cfg.Cron.PlatformHeader
	fromPlatform := header != "" && r.Header.Get(header) == "1"
	if !fromPlatform {
		if !s.cfg.CronConfigured() {
			s.errorResponse(w, ErrCronSecretMissing)
			return
		}
		token := middleware.BearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.cronSecretMatches(token) {
			s.errorResponse(w, &ErrUnauthorized{})
			return
		}
	}

	summary, err := s.deps.Runner.RunCron(r.Context(), s.cronLimit(r))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// cronLimit reads ?limit; absent or unparsable selects the default, and a
// parsed value is clamped to at least 1.
func (s *Server) cronLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return max(n, 1)
}

func (s *Server) cronSecretMatches(token string) bool {
	secret := s.cfg.Cron.Secret
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// handleGetFigmaToken reports whether the caller stored a token.
func (s *Server) handleGetFigmaToken(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	has, err := s.deps.Tokens.Has(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"hasToken": has})
}

// handlePutFigmaToken validates a token against the API and stores it.
func (s *Server) handlePutFigmaToken(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var req types.FigmaTokenRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.errorResponse(w, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if err := req.Validate(); err != nil {
		s.errorResponse(w, err)
		return
	}

	if err := s.deps.Figma.ValidateToken(r.Context(), req.Token); err != nil {
		var fe *figma.Error
		if errors.As(err, &fe) && (fe.StatusCode == http.StatusUnauthorized || fe.StatusCode == http.StatusForbidden) {
			err = &ErrValidation{Field: "token", Message: "Figma rejected the token"}
		}
		s.errorResponse(w, err)
		return
	}
	if err := s.deps.Tokens.Put(r.Context(), userID, req.Token); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.logger.Infow("stored figma token", "owner_id", userID)
	s.jsonResponse(w, http.StatusOK, map[string]bool{"ok": true, "hasToken": true})
}

// handleDeleteFigmaToken removes the caller's token.
func (s *Server) handleDeleteFigmaToken(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.deps.Tokens.Delete(r.Context(), userID); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"ok": true, "hasToken": false})
}
