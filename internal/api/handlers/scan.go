package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/scanner"
	"github.com/anstrom/portprobe/internal/store"
)

//go:generate mockgen -source=scan.go -destination=mocks/mock_scan.go -package=mocks

// ScanRunner starts scans. Runner is the production implementation.
type ScanRunner interface {
	Start(ctx context.Context, cfg scanner.Config) (*scanner.Scan, error)
}

// SummaryStore persists finished scans.
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary scanner.Summary) error
	ListScans(ctx context.Context, limit int) ([]store.ScanRecord, error)
	Ping(ctx context.Context) error
}

// Runner builds a scanner per request with a fixed set of options.
type Runner struct {
	opts []scanner.Option
}

// NewRunner returns a Runner applying opts to every scanner it builds.
func NewRunner(opts ...scanner.Option) *Runner {
	return &Runner{opts: opts}
}

// Start validates cfg and starts the scan.
func (r *Runner) Start(ctx context.Context, cfg scanner.Config) (*scanner.Scan, error) {
	s, err := scanner.New(cfg, r.opts...)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx), nil
}

// ScanRequest is the body of POST /scans and the query of the stream endpoint.
type ScanRequest struct {
	Host        string `json:"host" validate:"required,hostname_rfc1123|ip"`
	StartPort   int    `json:"start_port" validate:"min=1,max=65535"`
	EndPort     int    `json:"end_port" validate:"min=1,max=65535"`
	Concurrency int    `json:"concurrency,omitempty" validate:"min=0"`
	TimeoutMS   int    `json:"timeout_ms,omitempty" validate:"min=0,max=60000"`
}

// ScanHandler serves scan endpoints.
type ScanHandler struct {
	runner    ScanRunner
	store     SummaryStore
	defaults  *config.Config
	validator *validator.Validate
	logger    *logging.Logger
}

// NewScanHandler creates a scan handler. store may be nil.
func NewScanHandler(runner ScanRunner, summaries SummaryStore, defaults *config.Config, logger *logging.Logger) *ScanHandler {
	return &ScanHandler{
		runner:    runner,
		store:     summaries,
		defaults:  defaults,
		validator: validator.New(),
		logger:    logger.WithComponent("scan_handler"),
	}
}

// validate checks req and builds the scanner configuration for it.
func (h *ScanHandler) validate(req ScanRequest) (scanner.Config, error) {
	if err := h.validator.Struct(req); err != nil {
		return scanner.Config{}, fmt.Errorf("validation failed: %w", err)
	}
	if count := req.EndPort - req.StartPort + 1; count > h.defaults.API.MaxPorts {
		return scanner.Config{}, fmt.Errorf("range covers %d ports, limit is %d", count, h.defaults.API.MaxPorts)
	}

	cfg := h.defaults.ScannerConfig(req.Host, req.StartPort, req.EndPort)
	if req.Concurrency > 0 {
		cfg.Concurrency = req.Concurrency
	}
	if req.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	return cfg, nil
}

// CreateScan runs a scan to completion and returns its summary.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	cfg, err := h.validate(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	scan, err := h.runner.Start(r.Context(), cfg)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	summary := scan.Wait()
	h.save(r.Context(), summary)

	writeJSON(w, r, http.StatusOK, summary)
}

// ListScans returns stored scans.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusNotImplemented, fmt.Errorf("scan storage is not configured"))
		return
	}

	limit, err := getQueryParamInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	records, err := h.store.ListScans(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list scans")
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to list scans"))
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"scans": records,
		"count": len(records),
	})
}

// save stores summary when storage is configured. Failures are logged only.
func (h *ScanHandler) save(ctx context.Context, summary scanner.Summary) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveSummary(ctx, summary); err != nil {
		h.logger.WithScanID(summary.ID.String()).WithError(err).Warn("Failed to store scan summary")
	}
}
