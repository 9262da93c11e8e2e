// Package clinicalengine is the HTTP JSON client for the clinical decision
// engine: diagnosis with SOAP note, differential diagnoses, treatment
// suggestions and real-time alerts.
package clinicalengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"clinical-scribe-service/internal/models"
	"clinical-scribe-service/internal/observability/metrics"
)

var (
	// ErrEngineUnavailable covers timeouts, 5xx, 429 and network failures.
	// Callers may retry.
	ErrEngineUnavailable = errors.New("clinical engine unavailable")
	// ErrEngineRejected is a 4xx response; retrying the same request will
	// not help.
	ErrEngineRejected = errors.New("clinical engine rejected request")
)

// StatusError is a non-2xx engine response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clinical engine %s: HTTP %d: %s", e.Endpoint, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code >= 500 || e.Code == http.StatusTooManyRequests {
		return ErrEngineUnavailable
	}
	return ErrEngineRejected
}

type DifferentialDiagnosis struct {
	Name       string `json:"name"`
	Likelihood string `json:"likelihood,omitempty"`
	KeyFactors string `json:"key_factors,omitempty"`
}

type TrialMatch struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Phase       string `json:"phase,omitempty"`
	Location    string `json:"location,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Eligibility string `json:"eligibility,omitempty"`
}

// DiagnosticResult is the engine's primary diagnosis.
type DiagnosticResult struct {
	DiagnosisName         string                  `json:"diagnosis_name"`
	DiagnosisCode         string                  `json:"diagnosis_code,omitempty"`
	Confidence            float64                 `json:"confidence"`
	SupportingEvidence    []string                `json:"supporting_evidence"`
	DifferentialDiagnoses []DifferentialDiagnosis `json:"differential_diagnoses,omitempty"`
	RecommendedTests      []string                `json:"recommended_tests,omitempty"`
	RecommendedTreatments []string                `json:"recommended_treatments,omitempty"`
	ClinicalTrialMatches  []TrialMatch            `json:"clinical_trial_matches,omitempty"`
}

// EncounterRequest identifies the encounter and carries its transcript.
type EncounterRequest struct {
	PatientID   string `json:"patientId"`
	EncounterID string `json:"encounterId"`
	Transcript  string `json:"transcript"`
}

type DiagnosisResponse struct {
	DiagnosticResult *DiagnosticResult `json:"diagnosticResult"`
	SoapNote         string            `json:"soapNote"`
}

type DifferentialResponse struct {
	DifferentialDiagnoses []DifferentialDiagnosis `json:"differentialDiagnoses"`
}

type TreatmentsRequest struct {
	PatientData any    `json:"patientData,omitempty"`
	Diagnosis   string `json:"diagnosis"`
	Transcript  string `json:"transcript"`
}

type TreatmentsResponse struct {
	Treatments []string `json:"treatments"`
}

type AlertsResponse struct {
	Alerts []models.Alert `json:"alerts"`
}

// Client calls the engine. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// New creates a client for baseURL. A non-positive timeout means 30s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: metrics.DefaultMetrics,
	}
}

// GenerateDiagnosis runs the full diagnostic pipeline for an encounter.
func (c *Client) GenerateDiagnosis(ctx context.Context, req EncounterRequest) (*DiagnosisResponse, error) {
	var out DiagnosisResponse
	if err := c.post(ctx, "diagnosis", "/clinical-engine", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DifferentialDiagnoses(ctx context.Context, req EncounterRequest) (*DifferentialResponse, error) {
	var out DifferentialResponse
	if err := c.post(ctx, "differential", "/clinical-engine/differential-diagnoses", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Treatments(ctx context.Context, req TreatmentsRequest) (*TreatmentsResponse, error) {
	var out TreatmentsResponse
	if err := c.post(ctx, "treatments", "/clinical-engine/treatments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts asks the engine which alerts the transcript so far warrants.
func (c *Client) Alerts(ctx context.Context, req EncounterRequest) (*AlertsResponse, error) {
	var out AlertsResponse
	if err := c.post(ctx, "alerts", "/clinical-engine/alerts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordEngineCall(endpoint, err, time.Since(start).Seconds())
		if err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("Clinical engine call failed")
		}
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrEngineUnavailable, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrEngineUnavailable, endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
