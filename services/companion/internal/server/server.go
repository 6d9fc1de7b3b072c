package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"companionai/internal/usertoken"
	"companionai/internal/util"
	"companionai/pkg/domain"
	"companionai/services/companion/internal/app"
)

const (
	maxJSONBody         = 1 << 20
	defaultMessageLimit = 100
)

// IdentityClient resolves a bearer token to the caller profile.
type IdentityClient interface {
	Me(ctx context.Context, token string) (domain.Caller, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	Identity       IdentityClient
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
}

// Server exposes the companion HTTP API.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	identity       IdentityClient
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		identity:       cfg.Identity,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("companion", s.trustedProxies,
			util.WithRecover(
				util.WithSecurityHeaders(
					util.WithCORS(s.allowedOrigins, s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// companions
	s.mux.Handle("/api/companion", s.withCaller(s.handleCompanion))
	s.mux.Handle("/api/companion/", s.withCaller(s.handleCompanionByID))
	s.mux.Handle("/api/companions", s.withCaller(s.handleListCompanions))
	s.mux.Handle("/api/categories", s.withCaller(s.handleListCategories))
	s.mux.Handle("/api/uploads", s.withCaller(s.handleUpload))

	// chat
	s.mux.Handle("/api/chat/", s.withCaller(s.handleChat))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type callerHandler func(http.ResponseWriter, *http.Request, domain.Caller)

// withCaller authenticates the bearer token and resolves the caller. Callers
// without an id or a display name are rejected.
func (s *Server) withCaller(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "auth not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := s.tokenVerifier.Verify(r.Context(), token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Debug("token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		caller := claims.Caller()
		if s.identity != nil {
			me, err := s.identity.Me(r.Context(), token)
			if err != nil || me.ID != caller.ID {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			caller = me
		}
		if !caller.Authenticated() {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", caller.ID))
		next(w, r.WithContext(ctx), caller)
	})
}

// /api/companion
func (s *Server) handleCompanion(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateCompanion(w, r, caller)
	case http.MethodPatch:
		s.handleUpdateCompanion(w, r, caller, "")
	default:
		methodNotAllowed(w)
	}
}

// /api/companion/{companionId}
func (s *Server) handleCompanionByID(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	id := strings.TrimPrefix(r.URL.Path, "/api/companion/")
	if strings.Contains(id, "/") {
		notFound(w, "Not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		s.handleUpdateCompanion(w, r, caller, id)
	case http.MethodGet:
		if id == "" {
			writeError(w, http.StatusBadRequest, "Companion ID is required")
			return
		}
		c, err := s.app.GetCompanion(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, "COMPANION_GET", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		c, err := s.app.DeleteCompanion(r.Context(), caller, id)
		if err != nil {
			s.writeAppError(w, r, "COMPANION_DELETE", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		methodNotAllowed(w)
	}
}

// companionRequest accepts "instruction" as a legacy alias of "instructions".
type companionRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
	Instruction  string `json:"instruction"`
	Seed         string `json:"seed"`
	Src          string `json:"src"`
	CategoryID   string `json:"categoryId"`
}

func (req companionRequest) input() domain.CompanionInput {
	instructions := req.Instructions
	if strings.TrimSpace(instructions) == "" {
		instructions = req.Instruction
	}
	return domain.CompanionInput{
		Name:         req.Name,
		Description:  req.Description,
		Instructions: instructions,
		Seed:         req.Seed,
		Src:          req.Src,
		CategoryID:   req.CategoryID,
	}
}

func decodeCompanion(w http.ResponseWriter, r *http.Request) (domain.CompanionInput, bool) {
	var req companionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return domain.CompanionInput{}, false
	}
	return req.input(), true
}

func (s *Server) handleCreateCompanion(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	in, ok := decodeCompanion(w, r)
	if !ok {
		return
	}
	c, err := s.app.CreateCompanion(r.Context(), caller, in)
	if err != nil {
		s.writeAppError(w, r, "COMPANION_POST", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCompanion(w http.ResponseWriter, r *http.Request, caller domain.Caller, id string) {
	in, ok := decodeCompanion(w, r)
	if !ok {
		return
	}
	c, err := s.app.UpdateCompanion(r.Context(), caller, id, in)
	if err != nil {
		s.writeAppError(w, r, "COMPANION_PATCH", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// /api/companions?categoryId=&name=
func (s *Server) handleListCompanions(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	items, err := s.app.ListCompanions(r.Context(), domain.CompanionFilter{
		CategoryID: q.Get("categoryId"),
		Name:       q.Get("name"),
		UserID:     q.Get("userId"),
	})
	if err != nil {
		s.writeAppError(w, r, "COMPANIONS_GET", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListCategories(r.Context())
	if err != nil {
		s.writeAppError(w, r, "CATEGORIES_GET", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	limit := s.app.MaxUploadBytes()
	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required (field: file)")
		return
	}
	defer file.Close()
	src, err := s.app.UploadImage(r.Context(), caller, file, header.Size)
	if err != nil {
		s.writeAppError(w, r, "UPLOAD_POST", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"src": src})
}

// /api/chat/{companionId} or /api/chat/{companionId}/messages
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "Not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "messages" {
			notFound(w, "Not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleListMessages(w, r, caller, id)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.handleSendChat(w, r, caller, id)
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleSendChat streams the reply as plain text. Errors raised before the
// first chunk get a normal error response; later ones end the stream.
func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request, caller domain.Caller, id string) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	rc := http.NewResponseController(w)
	started := false
	_, err := s.app.Chat(r.Context(), caller, id, req.Prompt, func(delta string) error {
		if !started {
			h := w.Header()
			h.Set("Content-Type", "text/plain; charset=utf-8")
			h.Set("Cache-Control", "no-cache")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})
	if err == nil {
		return
	}
	if started {
		util.LoggerFromContext(r.Context()).Error("chat stream aborted", "companion_id", id, "err", err)
		return
	}
	s.writeAppError(w, r, "CHAT_POST", err)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, caller domain.Caller, id string) {
	limit := defaultMessageLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	items, err := s.app.ListMessages(r.Context(), caller, id, limit)
	if err != nil {
		s.writeAppError(w, r, "MESSAGES_GET", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// writeAppError maps application errors to responses. Anything unexpected is
// logged under op and reported as a bare 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, app.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "Missing required fields")
	case errors.Is(err, app.ErrCompanionIDRequired):
		writeError(w, http.StatusBadRequest, "Companion ID is required")
	case errors.Is(err, app.ErrNotFound):
		notFound(w, "Companion not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, app.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, "Unknown category")
	case errors.Is(err, app.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, "Prompt is required")
	case errors.Is(err, app.ErrUnsupportedImage):
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported image type")
	case errors.Is(err, app.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
	case errors.Is(err, app.ErrUploadsDisabled), errors.Is(err, app.ErrChatDisabled):
		writeError(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a plain-text body with a stable X-Error-Code header.
func writeError(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Error-Code", errorCodeFor(status, msg))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch message {
	case "auth not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case "unauthorized":
		return "AUTH_UNAUTHORIZED"
	case "forbidden":
		return "COMPANION_FORBIDDEN"
	case "missing required fields":
		return "COMPANION_MISSING_FIELDS"
	case "companion id is required":
		return "COMPANION_ID_REQUIRED"
	case "companion not found":
		return "COMPANION_NOT_FOUND"
	case "unknown category":
		return "CATEGORY_UNKNOWN"
	case "prompt is required":
		return "CHAT_PROMPT_REQUIRED"
	case "unsupported image type":
		return "UPLOAD_UNSUPPORTED_TYPE"
	case "image too large":
		return "UPLOAD_TOO_LARGE"
	case "invalid form data", "file is required (field: file)":
		return "UPLOAD_INVALID_FORM"
	case "invalid json body", "invalid limit":
		return "REQUEST_INVALID"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	case "service unavailable":
		return "SYSTEM_UNAVAILABLE"
	}

	switch status {
	case http.StatusBadRequest:
		return "COMPANION_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_UNAUTHORIZED"
	case http.StatusForbidden:
		return "COMPANION_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
