// Package mockapi is a stand-in engagement API server for local
// development and integration tests. It grants JWT conversation
// credentials, serves an engagement manifest with a rolling expiry, and
// records every payload it receives for inspection.
package mockapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/feedbackloop/engage-sdk/internal/targeting"
	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

const (
	headerAppKey       = "X-Engage-App-Key"
	headerAppSignature = "X-Engage-App-Signature"
)

// RecordedPayload is one payload body the server accepted, tagged with
// where it arrived.
type RecordedPayload struct {
	ConversationID string          `json:"conversation_id"`
	Path           string          `json:"path"`
	ReceivedAt     time.Time       `json:"received_at"`
	Body           json.RawMessage `json:"body"`
}

// Config assembles a Handler.
type Config struct {
	Logger *logging.Logger
	// TokenSecret signs conversation JWTs.
	TokenSecret string
	// AppKey/AppSignature, when set, are required on conversation
	// creation. Empty values accept any credentials.
	AppKey       string
	AppSignature string
	// Manifest is served to every conversation.
	Manifest *targeting.Manifest
	// ManifestTTL sets the expiry stamped on each manifest response.
	ManifestTTL time.Duration
}

// Handler implements the subset of the engagement API the SDK talks to.
type Handler struct {
	logger       *logging.Logger
	secret       []byte
	appKey       string
	appSignature string
	manifestTTL  time.Duration

	mu            sync.Mutex
	manifest      *targeting.Manifest
	conversations map[string]time.Time
	payloads      []RecordedPayload
}

// NewHandler creates a mock API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ttl := cfg.ManifestTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Handler{
		logger:        logger,
		secret:        []byte(cfg.TokenSecret),
		appKey:        cfg.AppKey,
		appSignature:  cfg.AppSignature,
		manifestTTL:   ttl,
		manifest:      cfg.Manifest,
		conversations: make(map[string]time.Time),
	}
}

// Routes mounts the API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/conversations", h.CreateConversation)
	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Use(h.requireConversationToken)
		r.Get("/interactions", h.GetInteractions)
		r.Post("/events", h.recordPayload)
		r.Post("/surveys/{surveyID}/responses", h.recordPayload)
		r.Post("/person", h.recordPayload)
		r.Post("/device", h.recordPayload)
		r.Post("/app_release", h.recordPayload)
	})

	r.Get("/debug/payloads", h.DebugPayloads)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// SetManifest replaces the manifest served to clients.
func (h *Handler) SetManifest(m *targeting.Manifest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.manifest = m
}

// Payloads returns a copy of everything recorded so far.
func (h *Handler) Payloads() []RecordedPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RecordedPayload, len(h.payloads))
	copy(out, h.payloads)
	return out
}

// CreateConversation registers an installation and grants credentials.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	if h.appKey != "" {
		if r.Header.Get(headerAppKey) != h.appKey || r.Header.Get(headerAppSignature) != h.appSignature {
			writeError(w, http.StatusUnauthorized, "invalid app credentials")
			return
		}
	}

	conversationID := uuid.NewString()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  conversationID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		h.logger.Error("token signing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}

	h.mu.Lock()
	h.conversations[conversationID] = now
	h.mu.Unlock()
	h.logger.Info("conversation created", "conversation_id", conversationID)

	writeJSON(w, http.StatusCreated, map[string]string{
		"token": token,
		"id":    conversationID,
	})
}

// GetInteractions serves the manifest with a fresh expiry.
func (h *Handler) GetInteractions(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	manifest := h.manifest
	h.mu.Unlock()

	if manifest == nil {
		manifest = &targeting.Manifest{}
	}
	expiry := time.Now().Add(h.manifestTTL)
	response := *manifest
	response.Expiry = &expiry
	writeJSON(w, http.StatusOK, response)
}

// DebugPayloads dumps every recorded payload.
func (h *Handler) DebugPayloads(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Payloads())
}

func (h *Handler) recordPayload(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload body")
		return
	}

	h.mu.Lock()
	h.payloads = append(h.payloads, RecordedPayload{
		ConversationID: conversationID,
		Path:           strings.TrimPrefix(r.URL.Path, "/conversations/"+conversationID+"/"),
		ReceivedAt:     time.Now(),
		Body:           body,
	})
	h.mu.Unlock()

	h.logger.Debug("payload recorded", "conversation_id", conversationID, "path", r.URL.Path)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "accepted"})
}

// requireConversationToken validates the Bearer JWT and checks that its
// subject matches the conversation in the URL.
func (h *Handler) requireConversationToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		tokenString := strings.TrimPrefix(auth, "Bearer ")
		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Subject != chi.URLParam(r, "conversationID") {
			writeError(w, http.StatusForbidden, "token does not match conversation")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title string) {
	writeJSON(w, status, map[string]string{"title": title})
}
