package detection

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

type broadPPE struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	IsViolation bool    `json:"is_violation"`
}

type broadFace struct {
	IdentityID string  `json:"identity_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type broadResponse struct {
	Success    bool `json:"success"`
	Detections struct {
		PPE     []broadPPE     `json:"ppe"`
		Faces   []broadFace    `json:"faces"`
		Summary map[string]any `json:"summary"`
	} `json:"detections"`
}

// BroadClient talks to the endpoint that accepts a multipart image and
// returns labelled detections, violations and identity candidates.
type BroadClient struct {
	endpoint   string
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ Classifier = (*BroadClient)(nil)

// NewBroadClient creates a client for endpoint.
func NewBroadClient(endpoint string, httpClient *http.Client, tracer trace.Tracer) *BroadClient {
	return &BroadClient{endpoint: endpoint, httpClient: httpClient, tracer: tracer}
}

// Name identifies the endpoint in logs and metrics.
func (c *BroadClient) Name() string { return "broad" }

// Classify posts frame and returns its observations and identity candidates.
// Every face is also an observation of the face item.
func (c *BroadClient) Classify(ctx context.Context, frame gate.Frame) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "detection.broad.classify",
		trace.WithAttributes(
			attribute.String("endpoint", c.endpoint),
			attribute.Int("frame_bytes", len(frame.Data)),
		))
	defer span.End()

	body, contentType, err := imageForm("image", frame)
	if err != nil {
		return Result{}, c.fail(span, 0, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, c.fail(span, 0, err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp broadResponse
	if status, err := doJSON(c.httpClient, req, &resp); err != nil {
		return Result{}, c.fail(span, status, err)
	}
	if !resp.Success {
		return Result{}, c.fail(span, 0, errUnsuccessful)
	}

	res := Result{Observations: make([]Observation, 0, len(resp.Detections.PPE)+len(resp.Detections.Faces))}
	for _, p := range resp.Detections.PPE {
		res.Observations = append(res.Observations, Observation{
			Label:      p.Label,
			Confidence: p.Confidence,
			Violation:  p.IsViolation,
		})
	}
	for _, f := range resp.Detections.Faces {
		res.Observations = append(res.Observations, Observation{Label: "face", Confidence: f.Confidence})
		res.Candidates = append(res.Candidates, gate.Identity{ID: f.IdentityID, Name: f.Name, Confidence: f.Confidence})
	}

	span.SetAttributes(
		attribute.Int("observations", len(res.Observations)),
		attribute.Int("faces", len(res.Candidates)),
	)
	return res, nil
}

func (c *BroadClient) fail(span trace.Span, status int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "classification failed")
	return &gate.DetectionRequestError{Endpoint: c.Name(), StatusCode: status, Err: err}
}

// imageForm encodes frame as a single-file multipart form under field.
func imageForm(field string, frame gate.Frame) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="frame.jpg"`, field))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
