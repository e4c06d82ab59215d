// Package handlers provides HTTP handlers for the covariance estimators.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/eigenrisk/internal/modules/covariance"
)

// Profile supplies the estimator options applied before request overrides.
type Profile interface {
	RMTOptions() covariance.RMTOptions
	SpikedOptions() covariance.SpikedOptions
}

// maxRequestBytes bounds a request body.
const maxRequestBytes = streamReadLimit

// Handler handles covariance HTTP requests
type Handler struct {
	service       *covariance.Service
	profile       Profile
	validate      *validator.Validate
	streamOrigins []string
	log           zerolog.Logger
}

// NewHandler creates a new covariance handler. A nil profile uses the
// estimator defaults.
func NewHandler(service *covariance.Service, profile Profile, log zerolog.Logger) *Handler {
	if profile == nil {
		profile = builtinProfile{}
	}
	return &Handler{
		service:  service,
		profile:  profile,
		validate: validator.New(),
		log:      log.With().Str("handler", "covariance").Logger(),
	}
}

// SetStreamOrigins sets the origin patterns accepted on the stream besides
// the server's own host.
func (h *Handler) SetStreamOrigins(patterns []string) {
	h.streamOrigins = patterns
}

type builtinProfile struct{}

func (builtinProfile) RMTOptions() covariance.RMTOptions       { return covariance.RMTOptions{} }
func (builtinProfile) SpikedOptions() covariance.SpikedOptions { return covariance.SpikedOptions{} }

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    ErrorDetail            `json:"error"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  []ValidationError `json:"fields,omitempty"`
}

// ValidationError describes one invalid request field.
type ValidationError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// HandleRMT handles POST /api/covariance/rmt
func (h *Handler) HandleRMT(w http.ResponseWriter, r *http.Request) {
	var req RMTRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.runRMT(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeData(w, r, report, report.RunID, report.Cached)
}

// HandleSpiked handles POST /api/covariance/spiked
func (h *Handler) HandleSpiked(w http.ResponseWriter, r *http.Request) {
	var req SpikedRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.runSpiked(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeData(w, r, report, report.RunID, report.Cached)
}

// HandleLosses handles GET /api/covariance/losses
func (h *Handler) HandleLosses(w http.ResponseWriter, r *http.Request) {
	losses := covariance.Losses()
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"data": map[string]interface{}{
			"losses": losses,
			"count":  len(losses),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) runRMT(ctx context.Context, req RMTRequest) (covariance.RMTReport, error) {
	matrix, err := req.Matrix()
	if err != nil {
		return covariance.RMTReport{}, err
	}
	return h.service.RMT(ctx, matrix, req.Options.apply(h.profile.RMTOptions()))
}

func (h *Handler) runSpiked(ctx context.Context, req SpikedRequest) (covariance.SpikedReport, error) {
	matrix, err := req.Matrix()
	if err != nil {
		return covariance.SpikedReport{}, err
	}
	opts, err := req.Options.apply(h.profile.SpikedOptions())
	if err != nil {
		return covariance.SpikedReport{}, err
	}
	return h.service.Spiked(ctx, matrix, opts)
}

// decode reads the request body and binds it. It writes the error response
// itself and reports whether handling should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := render.DecodeJSON(r.Body, req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeProblem(w, r, http.StatusRequestEntityTooLarge, ErrorDetail{Code: "too_large", Message: "Request body exceeds the size limit"})
			return false
		}
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		h.writeProblem(w, r, http.StatusBadRequest, ErrorDetail{Code: "invalid_body", Message: "Invalid request body"})
		return false
	}
	if status, detail, ok := h.bind(r.Context(), req); !ok {
		h.writeProblem(w, r, status, detail)
		return false
	}
	return true
}

// bind applies struct defaults and validates a decoded request.
func (h *Handler) bind(ctx context.Context, req interface{}) (int, ErrorDetail, bool) {
	if err := defaults.Set(req); err != nil {
		return http.StatusInternalServerError, ErrorDetail{Code: "error", Message: err.Error()}, false
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		detail := ErrorDetail{Code: "validation", Message: "Request validation failed"}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				detail.Fields = append(detail.Fields, ValidationError{
					Field: strings.ToLower(fe.Field()),
					Rule:  fe.Tag(),
					Param: fe.Param(),
				})
			}
		}
		return http.StatusBadRequest, detail, false
	}
	return http.StatusOK, ErrorDetail{}, true
}

// StatusFor maps estimator errors to HTTP status codes.
func StatusFor(err error) int {
	switch covariance.Outcome(err) {
	case "config", "data":
		return http.StatusBadRequest
	case "fit", "numerical", "degenerate":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Estimator request failed")
	}
	h.writeProblem(w, r, status, ErrorDetail{Code: covariance.Outcome(err), Message: err.Error()})
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, status int, detail ErrorDetail) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Error: detail,
		Metadata: map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeData(w http.ResponseWriter, r *http.Request, data interface{}, runID string, cached bool) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"run_id":    runID,
			"cached":    cached,
		},
	})
}
