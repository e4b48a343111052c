package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

type Config struct {
	BaseURL string
	// ExtractTimeout bounds the extraction call. Engine contracts allow
	// multi-minute latency for large documents, so this is minutes, not
	// the seconds used for ordinary requests.
	ExtractTimeout time.Duration
	HealthTimeout  time.Duration
}

// Client talks to the remote extraction service over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 10 * time.Minute
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// No client-level timeout: per-call contexts carry the bound,
		// which differs between extract and health.
		http: &http.Client{},
		log:  logger,
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v1/extraction" + path
}

// Extract sends the document bytes to the engine and waits for the
// structured table data.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (*entity.ExtractionResult, error) {
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("engine.extract.start",
		"req_id", rid,
		"file_name", req.FileName,
		"bytes", len(req.Document),
		"target_language", req.TargetLanguage,
		"preserve_names", req.PreserveNames,
	)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(req.Document); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if req.TargetLanguage != "" {
		_ = writer.WriteField("target_language", req.TargetLanguage)
	}
	_ = writer.WriteField("preserve_names", strconv.FormatBool(req.PreserveNames))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExtractTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/extract"), &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		mapped := c.mapTransportError(err)
		c.log.Error("engine.extract.send_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, mapped
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	c.log.Info("engine.extract.response",
		"req_id", rid,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		detail := errorDetail(raw)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, common.NewAppError("ENGINE_REJECTED", detail, common.ErrEngineRejected)
		}
		return nil, common.NewAppError("ENGINE_ERROR",
			fmt.Sprintf("engine returned status %d: %s", resp.StatusCode, detail), common.ErrEngineUnavailable)
	}

	var result entity.ExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.log.Error("engine.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return &result, nil
}

// Status queries the engine's own status endpoint. Only jobs created
// before this gateway existed ever resolve here.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/status/"+jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, common.ErrJobNotFound
	}
	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, common.NewAppError("ENGINE_ERROR",
			fmt.Sprintf("engine status returned %d: %s", resp.StatusCode, errorDetail(raw)), common.ErrEngineUnavailable)
	}

	var report StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode engine status: %w", err)
	}
	return &report, nil
}

// Health pings the engine with a short, request-scale timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.mapTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return common.NewAppError("ENGINE_UNHEALTHY",
			fmt.Sprintf("engine health returned %d", resp.StatusCode), common.ErrEngineUnavailable)
	}
	return nil
}

func (c *Client) mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError("ENGINE_TIMEOUT", "engine did not respond within the extraction timeout", common.ErrEngineTimeout)
	}
	return common.NewAppError("ENGINE_UNAVAILABLE", "cannot reach extraction engine", common.ErrEngineUnavailable)
}

// errorDetail pulls the detail field out of an engine error body,
// falling back to the raw text.
func errorDetail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}
