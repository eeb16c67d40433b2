package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// maxResponseBytes caps how much of a classifier response is read.
const maxResponseBytes = 1 << 20

var errUnsuccessful = errors.New("endpoint reported success=false")

type narrowRequest struct {
	Frame string `json:"frame"`
}

type narrowDetection struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
}

type narrowResponse struct {
	Success    bool `json:"success"`
	Detections struct {
		Helmet    narrowDetection `json:"helmet"`
		Vest      narrowDetection `json:"vest"`
		Compliant bool            `json:"compliant"`
	} `json:"detections"`
}

// NarrowClient talks to the endpoint that reports helmet and vest presence
// for a base64 encoded frame.
type NarrowClient struct {
	endpoint   string
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ Classifier = (*NarrowClient)(nil)

// NewNarrowClient creates a client for endpoint.
func NewNarrowClient(endpoint string, httpClient *http.Client, tracer trace.Tracer) *NarrowClient {
	return &NarrowClient{endpoint: endpoint, httpClient: httpClient, tracer: tracer}
}

// Name identifies the endpoint in logs and metrics.
func (c *NarrowClient) Name() string { return "narrow" }

// Classify posts frame and returns its observations. Items reported as not
// detected produce no observation.
func (c *NarrowClient) Classify(ctx context.Context, frame gate.Frame) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "detection.narrow.classify",
		trace.WithAttributes(
			attribute.String("endpoint", c.endpoint),
			attribute.Int("frame_bytes", len(frame.Data)),
		))
	defer span.End()

	body, err := json.Marshal(narrowRequest{Frame: base64.StdEncoding.EncodeToString(frame.Data)})
	if err != nil {
		return Result{}, c.fail(span, 0, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, c.fail(span, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp narrowResponse
	if status, err := doJSON(c.httpClient, req, &resp); err != nil {
		return Result{}, c.fail(span, status, err)
	}
	if !resp.Success {
		return Result{}, c.fail(span, 0, errUnsuccessful)
	}

	var res Result
	if d := resp.Detections.Helmet; d.Detected {
		res.Observations = append(res.Observations, Observation{Label: "helmet", Confidence: d.Confidence})
	}
	if d := resp.Detections.Vest; d.Detected {
		res.Observations = append(res.Observations, Observation{Label: "vest", Confidence: d.Confidence})
	}
	span.SetAttributes(
		attribute.Int("observations", len(res.Observations)),
		attribute.Bool("compliant", resp.Detections.Compliant),
	)
	return res, nil
}

func (c *NarrowClient) fail(span trace.Span, status int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "classification failed")
	return &gate.DetectionRequestError{Endpoint: c.Name(), StatusCode: status, Err: err}
}

// doJSON executes req and decodes a 2xx JSON body into out. It returns the
// HTTP status when one was received.
func doJSON(hc *http.Client, req *http.Request, out any) (int, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status: %s", http.StatusText(resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
