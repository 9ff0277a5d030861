package apihttp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/domain/ports"
	"overlaydispatch/internal/metrics"
	"overlaydispatch/internal/pairing"
)

func decodeJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

// overlayHub is the subset of *overlayhub.Hub the server needs to wire
// the WebSocket handshake route.
type overlayHub interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Server is the scheduler-facing HTTP surface: overlay handshake,
// config, pairing, range-streamed media, and a minimal job-producer
// ingest stub (spec.md §1 keeps ingestion out of core scope).
type Server struct {
	store   ports.Store
	hub     overlayHub
	pairing *pairing.Store
	logger  *slog.Logger

	protocolVersion string
	showTextDefault bool
	corsOrigins     []string
	rateLimitRPS    float64
	rateLimitBurst  int

	handler http.Handler
}

// ServerOption configures a Server; mirrors the teacher's functional
// options style for apihttp.NewServer.
type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithProtocolVersion(version string) ServerOption {
	return func(s *Server) { s.protocolVersion = version }
}

func WithShowTextDefault(value bool) ServerOption {
	return func(s *Server) { s.showTextDefault = value }
}

func WithCORSAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
		s.rateLimitBurst = burst
	}
}

const protocolVersionDefault = "1.0.0"

// NewServer wires the mux and middleware chain. hub implements the
// WebSocket handshake route; pairingStore may be nil in which case
// POST /overlay/pair/consume always fails closed.
func NewServer(store ports.Store, hub overlayHub, pairingStore *pairing.Store, opts ...ServerOption) *Server {
	s := &Server{
		store:           store,
		hub:             hub,
		pairing:         pairingStore,
		protocolVersion: protocolVersionDefault,
		showTextDefault: true,
		rateLimitRPS:    5,
		rateLimitBurst:  10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/overlay/ws", s.hub.ServeHTTP)
	mux.HandleFunc("/overlay/config", s.handleOverlayConfig)
	mux.HandleFunc("/overlay/pair/consume", s.handlePairConsume)
	mux.HandleFunc("/overlay/media/", s.handleMediaStream)
	mux.HandleFunc("/ingest/", s.handleIngestDisabled)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "overlay-dispatch",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/internal/health"
		}),
	)
	chain := recoveryMiddleware(s.logger,
		rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst,
			metricsMiddleware(corsMiddleware(s.corsOrigins, traced)),
		),
	)
	s.handler = chain
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Close() error {
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticateOverlayToken resolves the bearer token on an HTTP
// request to its OverlayClient, the same lookup the WebSocket
// handshake uses (sha256(token) -> OverlayClient.TokenHash).
func (s *Server) authenticateOverlayToken(ctx context.Context, r *http.Request) (domain.OverlayClient, error) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if token == "" {
		return domain.OverlayClient{}, errMissingToken
	}
	sum := sha256.Sum256([]byte(token))
	client, err := s.store.GetOverlayClientByTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OverlayClient{}, errInvalidToken
		}
		return domain.OverlayClient{}, err
	}
	if client.Revoked() {
		return domain.OverlayClient{}, errInvalidToken
	}
	return client, nil
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid or revoked bearer token")
)

type overlayConfigPayload struct {
	GuildID          string `json:"guildId"`
	ProtocolVersion  string `json:"protocolVersion"`
	ShowTextDefault  bool   `json:"showTextDefault"`
	DefaultMediaTime int64  `json:"defaultMediaTime"`
	MaxMediaTime     *int64 `json:"maxMediaTime,omitempty"`
}

// GET /overlay/config
func (s *Server) handleOverlayConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	client, err := s.authenticateOverlayToken(r.Context(), r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	guild, err := s.store.GetGuild(r.Context(), client.GuildID)
	if err != nil {
		s.logger.Warn("overlay config: load guild failed", "guildId", client.GuildID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, overlayConfigPayload{
		GuildID:          guild.ID,
		ProtocolVersion:  s.protocolVersion,
		ShowTextDefault:  s.showTextDefault,
		DefaultMediaTime: guild.DefaultMediaTime,
		MaxMediaTime:     guild.MaxMediaTime,
	})
}

type pairConsumeRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
}

type pairConsumeResponse struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
	GuildID  string `json:"guildId"`
}

// POST /overlay/pair/consume
func (s *Server) handlePairConsume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	if s.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "pairing_api_disabled", "pairing store not configured")
		return
	}

	var req pairConsumeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	claim, err := s.pairing.Consume(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, pairing.ErrCodeNotFound) {
			writeError(w, http.StatusForbidden, "forbidden", "pairing code not found or already used")
			return
		}
		s.logger.Warn("pairing consume failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	label := strings.TrimSpace(req.DeviceName)
	if label == "" {
		label = claim.Label
	}

	if err := s.store.RevokeOverlayClients(r.Context(), claim.GuildID, label); err != nil {
		s.logger.Warn("pairing consume: revoke prior tokens failed", "guildId", claim.GuildID, "label", label, "error", err)
	}

	token := uuid.NewString()
	sum := sha256.Sum256([]byte(token))
	client := domain.OverlayClient{
		ID:        uuid.NewString(),
		GuildID:   claim.GuildID,
		Label:     label,
		TokenHash: hex.EncodeToString(sum[:]),
	}
	if err := s.store.CreateOverlayClient(r.Context(), client); err != nil {
		s.logger.Warn("pairing consume: create overlay client failed", "guildId", claim.GuildID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, pairConsumeResponse{Token: token, ClientID: client.ID, GuildID: client.GuildID})
}

// GET /overlay/media/:assetId — authenticated, tenant-scoped, range
// streamed. Access is only granted when the requesting client's guild
// references the asset from its PLAYING job, a PENDING root job, or a
// MemeBoardItem; finished jobs and pending resume children do not
// grant access.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET/HEAD only")
		return
	}
	assetID := strings.TrimPrefix(r.URL.Path, "/overlay/media/")
	assetID = strings.Trim(assetID, "/")
	if assetID == "" {
		writeError(w, http.StatusNotFound, "media_not_found", "asset not found")
		return
	}

	client, err := s.authenticateOverlayToken(r.Context(), r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	asset, err := s.store.GetMediaAsset(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media_not_found", "asset not found")
			return
		}
		s.logger.Warn("media stream: load asset failed", "assetId", assetID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if !asset.Playable() {
		writeError(w, http.StatusNotFound, "media_not_found", "asset not ready")
		return
	}

	if !s.assetAccessibleTo(r.Context(), client.GuildID, assetID) {
		writeError(w, http.StatusForbidden, "forbidden", "asset not accessible to this tenant")
		return
	}

	s.streamAsset(w, r, asset)
}

// assetAccessibleTo grounds the tenant-scoped access check required by
// spec.md §4.8: the requesting guild must reference assetID through
// its PLAYING job, one of its PENDING root jobs, or a meme-board item.
func (s *Server) assetAccessibleTo(ctx context.Context, guildID, assetID string) bool {
	if active, err := s.store.FindActivePlayingJob(ctx, guildID); err == nil && active != nil {
		if active.MediaAssetID != nil && *active.MediaAssetID == assetID {
			return true
		}
	}
	roots, err := s.store.ListPendingRoots(ctx, guildID)
	if err == nil {
		for _, job := range roots {
			if job.MediaAssetID != nil && *job.MediaAssetID == assetID {
				return true
			}
		}
	}
	if _, err := s.store.FindMemeBoardItemByMediaAsset(ctx, guildID, assetID); err == nil {
		return true
	}
	return false
}

func (s *Server) streamAsset(w http.ResponseWriter, r *http.Request, asset domain.MediaAsset) {
	f, err := os.Open(asset.StoragePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "media_not_found_on_disk", "asset missing from storage")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	size := info.Size()

	contentType := asset.Mime
	if contentType == "" {
		contentType = fallbackContentType(strings.ToLower(filepath.Ext(asset.StoragePath)))
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", contentType)

	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		metrics.MediaStreamRangeRequestsTotal.WithLabelValues("200").Inc()
		if r.Method == http.MethodHead {
			return
		}
		_, _ = io.CopyN(w, f, size)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", "range not satisfiable")
			metrics.MediaStreamRangeRequestsTotal.WithLabelValues("416").Inc()
			return
		}
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", "invalid range header")
		metrics.MediaStreamRangeRequestsTotal.WithLabelValues("416").Inc()
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	metrics.MediaStreamRangeRequestsTotal.WithLabelValues("206").Inc()
	if r.Method == http.MethodHead {
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	_, _ = io.CopyN(w, f, length)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMissingToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
	case errors.Is(err, errInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or revoked token")
	default:
		s.logger.Warn("auth error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// POST /ingest/… — the job-producer API is out of core scope
// (spec.md §1); this stub keeps the route addressable without
// implementing producer-side authentication and validation.
func (s *Server) handleIngestDisabled(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusServiceUnavailable, "ingest_api_disabled", "ingest API is not enabled on this deployment")
}
