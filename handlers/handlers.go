// Package handlers exposes the inference engine over HTTP.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-wardrobe/inference"
	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/models/garment"
	"github.com/nvr-ai/go-wardrobe/models/pose"
)

// FileField is the multipart field carrying the uploaded image.
const FileField = "file"

// Service is the part of inference.Engine the handlers use.
type Service interface {
	EstimatePose(data []byte) ([]pose.KeypointSet, error)
	Classify(data []byte) (garment.Result, error)
	PoseAvailable() bool
	Stats() []providers.Stats
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// PoseResponse is the body of a successful /predict call.
type PoseResponse struct {
	Keypoints []pose.KeypointSet `json:"keypoints"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status        string `json:"status"`
	PoseAvailable bool   `json:"pose_available"`
}

// Handler serves the HTTP API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandler creates a handler.
//
// Arguments:
//   - service: The inference service, normally an *inference.Engine.
//   - maxUploadBytes: The request body limit for uploads.
//   - logger: The request logger. Nil disables logging.
//
// Returns:
//   - *Handler: The handler.
func NewHandler(service Service, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, maxUploadBytes: maxUploadBytes}
}

// Routes returns the API mux wrapped in the standard middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /test", h.Test)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /classify", h.Classify)
	return Chain(mux, EnableCORS, RequestID, Recover(h.logger), AccessLog(h.logger))
}

// Test answers the liveness probe.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is running."})
}

// Health reports whether the pose model is usable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", PoseAvailable: h.service.PoseAvailable()})
}

// Stats reports run counts and latency per ONNX session.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]providers.Stats{"sessions": h.service.Stats()})
}

// Predict estimates the pose of every person in the uploaded image.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	sets, err := h.service.EstimatePose(data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PoseResponse{Keypoints: sets})
}

// Classify predicts the garment label and class of the uploaded image.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	result, err := h.service.Classify(data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readUpload returns the bytes of the multipart file field. It writes the error response
// itself and reports false when there is nothing to process.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, _, err := r.FormFile(FileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Upload too large", Detail: err.Error()})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Missing file",
			Detail: "expected an image in the multipart field \"" + FileField + "\": " + err.Error(),
		})
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Error reading upload", Detail: err.Error()})
		return nil, false
	}
	return data, true
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind inference.Kind) int {
	switch kind {
	case inference.KindNone:
		return http.StatusOK
	case inference.KindDecode:
		return http.StatusBadRequest
	case inference.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := inference.Classify(err)
	status := StatusFor(kind)
	fields := []zap.Field{
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.Stringer("kind", kind),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	writeJSON(w, status, ErrorResponse{Error: kind.Message(), Detail: inference.Detail(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
