// Package httpapi serves the coordinator's user-facing HTTP API.
package httpapi

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	"github.com/secretdoor/montyhall/internal/platform/httpx"
	"github.com/secretdoor/montyhall/internal/services/coordinator/orchestrator"
	"github.com/secretdoor/montyhall/internal/services/coordinator/storage"
)

// Coordinator is the orchestrator surface the API drives.
type Coordinator interface {
	SampleRandomness(ctx context.Context) (orchestrator.Sample, error)
	InitGame(ctx context.Context, player []byte) (orchestrator.Game, error)
	RevealDoor(ctx context.Context, pick uint8) (orchestrator.Reveal, error)
	State(ctx context.Context) (orchestrator.State, error)
	Steps(ctx context.Context, pageSize int, pageToken string) (storage.StepPage, error)
}

// Options configures the handler.
type Options struct {
	// Auth may be nil to disable bearer auth.
	Auth *Authenticator
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

type handler struct {
	coordinator Coordinator
	logger      zerolog.Logger
}

// NewHandler builds the API routes with CORS, request ids and panic recovery.
func NewHandler(coordinator Coordinator, opts Options) http.Handler {
	h := &handler{coordinator: coordinator, logger: opts.Logger}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/sample_randomness", h.sampleRandomness)
	api.HandleFunc("POST /api/new_game/{addr}", h.newGame)
	api.HandleFunc("POST /api/reveal_door/{door}", h.revealDoor)
	api.HandleFunc("GET /api/state", h.state)
	api.HandleFunc("GET /api/steps", h.steps)

	mux := http.NewServeMux()
	mux.Handle("/api/", opts.Auth.Middleware()(api))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
			http.MethodHead,
		},
	})
	return httpx.Chain(mux,
		httpx.RequestID(),
		httpx.RecoverPanic(opts.Logger),
		httpx.AccessLog(opts.Logger),
		corsHandler.Handler,
	)
}

type sampleResponse struct {
	Commitment string `json:"commitment"`
}

type gameResponse struct {
	Player              string `json:"player"`
	SeedCommitment      string `json:"seed_commitment"`
	GameStateCommitment string `json:"game_state_commitment"`
	Proof               string `json:"proof"`
}

type revealResponse struct {
	Door                uint8  `json:"door"`
	RevealedDoor        uint8  `json:"revealed_door"`
	GameStateCommitment string `json:"game_state_commitment"`
	Proof               string `json:"proof"`
}

type stepResponse struct {
	ID                  int64     `json:"id"`
	Kind                string    `json:"kind"`
	SeedCommitment      string    `json:"seed_commitment,omitempty"`
	Player              string    `json:"player,omitempty"`
	GameStateCommitment string    `json:"game_state_commitment,omitempty"`
	Pick                *uint8    `json:"pick,omitempty"`
	RevealedDoor        *uint8    `json:"revealed_door,omitempty"`
	Proof               string    `json:"proof,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type stateResponse struct {
	Sample *stepResponse `json:"sample"`
	Game   *stepResponse `json:"game"`
	Reveal *stepResponse `json:"reveal"`
}

type stepsResponse struct {
	Steps         []stepResponse `json:"steps"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func (h *handler) sampleRandomness(w http.ResponseWriter, r *http.Request) {
	sample, err := h.coordinator.SampleRandomness(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, sampleResponse{Commitment: hex.EncodeToString(sample.Commitment)})
}

func (h *handler) newGame(w http.ResponseWriter, r *http.Request) {
	player, err := parseAddress(r.PathValue("addr"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	game, err := h.coordinator.InitGame(r.Context(), player)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, gameResponse{
		Player:              hex.EncodeToString(game.Player),
		SeedCommitment:      hex.EncodeToString(game.SeedCommitment),
		GameStateCommitment: hex.EncodeToString(game.GameStateCommitment),
		Proof:               hex.EncodeToString(game.Proof),
	})
}

func (h *handler) revealDoor(w http.ResponseWriter, r *http.Request) {
	door, err := strconv.ParseUint(r.PathValue("door"), 10, 8)
	if err != nil {
		h.writeError(w, r, apperrors.New(apperrors.CodeBadRequest, "door must be a number"))
		return
	}
	reveal, err := h.coordinator.RevealDoor(r.Context(), uint8(door))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, revealResponse{
		Door:                reveal.Pick,
		RevealedDoor:        reveal.RevealedDoor,
		GameStateCommitment: hex.EncodeToString(reveal.GameStateCommitment),
		Proof:               hex.EncodeToString(reveal.Proof),
	})
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.State(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, stateResponse{
		Sample: toStepResponse(state.Sample),
		Game:   toStepResponse(state.Game),
		Reveal: toStepResponse(state.Reveal),
	})
}

func (h *handler) steps(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperrors.New(apperrors.CodeBadRequest, "page_size must be a number"))
			return
		}
		pageSize = parsed
	}
	page, err := h.coordinator.Steps(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := stepsResponse{Steps: make([]stepResponse, 0, len(page.Steps)), NextPageToken: page.NextPageToken}
	for i := range page.Steps {
		resp.Steps = append(resp.Steps, *toStepResponse(&page.Steps[i]))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, resp)
}

func toStepResponse(step *storage.Step) *stepResponse {
	if step == nil {
		return nil
	}
	resp := &stepResponse{
		ID:                  step.ID,
		Kind:                string(step.Kind),
		SeedCommitment:      hex.EncodeToString(step.SeedCommitment),
		Player:              hex.EncodeToString(step.Player),
		GameStateCommitment: hex.EncodeToString(step.GameStateCommitment),
		Proof:               hex.EncodeToString(step.Proof),
		CreatedAt:           step.CreatedAt,
	}
	if step.Kind == storage.StepReveal {
		pick, door := step.Pick, step.RevealedDoor
		resp.Pick = &pick
		resp.RevealedDoor = &door
	}
	return resp
}

// parseAddress decodes a hex player address with an optional 0x prefix.
func parseAddress(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	addr, err := hex.DecodeString(trimmed)
	if err != nil || len(addr) != 20 {
		return nil, apperrors.New(apperrors.CodeBadRequest, "player address must be 20 hex-encoded bytes")
	}
	return addr, nil
}

// writeError maps a domain error to its HTTP status. Server-side failures are
// logged in full and answered without detail.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := http.StatusInternalServerError
	message := ""
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		statusCode = domainErr.Code.HTTPStatus()
		message = domainErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		statusCode = http.StatusGatewayTimeout
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", w.Header().Get(httpx.RequestIDHeader)).
			Str("code", string(apperrors.CodeOf(err))).
			Msg("request failed")
	}
	_ = httpx.WriteJSONError(w, statusCode, message)
}
