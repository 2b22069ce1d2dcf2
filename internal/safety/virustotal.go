package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/models"
)

// DefaultVirusTotalURL is the public v3 API root.
const DefaultVirusTotalURL = "https://www.virustotal.com/api/v3"

// VirusTotalConfig configures the VirusTotal scanner.
type VirusTotalConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// VirusTotal scans files and checks domain reputation through the
// VirusTotal v3 API.
type VirusTotal struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

// NewVirusTotal creates a VirusTotal scanner.
func NewVirusTotal(cfg VirusTotalConfig, logger zerolog.Logger) *VirusTotal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultVirusTotalURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		// Per-call deadlines come from the context.
		cfg.HTTPClient = &http.Client{}
	}
	return &VirusTotal{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		httpClient:   cfg.HTTPClient,
		logger:       logger.With().Str("component", "virustotal").Logger(),
	}
}

func (v *VirusTotal) Name() string  { return "virustotal" }
func (v *VirusTotal) Enabled() bool { return true }

// analysisStats mirrors the engine counters in VirusTotal responses.
type analysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

func (s analysisStats) result(source string) *models.ScanResult {
	return &models.ScanResult{
		Malicious:  s.Malicious,
		Suspicious: s.Suspicious,
		Harmless:   s.Harmless,
		Undetected: s.Undetected,
		Source:     source,
	}
}

type uploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type analysisResponse struct {
	Data struct {
		Attributes struct {
			Status string        `json:"status"`
			Stats  analysisStats `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

type domainResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats analysisStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// ScanFile uploads data for analysis and polls until the analysis completes
// or ctx is done.
func (v *VirusTotal) ScanFile(ctx context.Context, filename string, data []byte) (*models.ScanResult, error) {
	if filename == "" {
		filename = "upload.bin"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("%w: build form: %v", ErrScanUnavailable, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: build form: %v", ErrScanUnavailable, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: build form: %v", ErrScanUnavailable, err)
	}

	var upload uploadResponse
	if err := v.do(ctx, http.MethodPost, "/files", &body, mw.FormDataContentType(), &upload); err != nil {
		return nil, err
	}
	if upload.Data.ID == "" {
		return nil, fmt.Errorf("%w: upload returned no analysis id", ErrScanUnavailable)
	}
	v.logger.Debug().Str("analysis", upload.Data.ID).Int("bytes", len(data)).Msg("file submitted")

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for {
		var analysis analysisResponse
		if err := v.do(ctx, http.MethodGet, "/analyses/"+url.PathEscape(upload.Data.ID), nil, "", &analysis); err != nil {
			return nil, err
		}
		if analysis.Data.Attributes.Status == "completed" {
			return analysis.Data.Attributes.Stats.result("file_analysis"), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w: %v", ErrScanUnavailable, ErrAnalysisPending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CheckURL looks up the reputation of the URL's domain.
func (v *VirusTotal) CheckURL(ctx context.Context, rawURL string) (*models.ScanResult, error) {
	host := HostOf(rawURL)
	if host == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrScanUnavailable, rawURL)
	}

	var resp domainResponse
	if err := v.do(ctx, http.MethodGet, "/domains/"+url.PathEscape(host), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Data.Attributes.LastAnalysisStats.result("reputation_check"), nil
}

// do performs an authenticated API request and decodes the JSON response.
func (v *VirusTotal) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrScanUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("%w: status %d: %s", ErrScanUnavailable, resp.StatusCode, errResp.Error.Code)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrScanUnavailable, err)
	}
	return nil
}

// HostOf returns the lowercased hostname of rawURL, or "" if it has none.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
