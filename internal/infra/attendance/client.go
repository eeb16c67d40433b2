// Package attendance records gate entries with the attendance service.
package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// Record is the attendance entry returned by the service.
type Record struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Status     string `json:"status"`
	MarkedAt   string `json:"marked_at"`
}

type response struct {
	Success bool    `json:"success"`
	Record  *Record `json:"record"`
	Message string  `json:"message"`
}

var errRejected = errors.New("attendance service rejected the record")

// Client posts the frame that resolved an identity to the attendance service.
type Client struct {
	endpoint   string
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

var _ gate.AttendanceRecorder = (*Client)(nil)

// NewClient creates a client for endpoint.
func NewClient(endpoint string, httpClient *http.Client, logger *logger.Logger, tracer trace.Tracer) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "attendance_client"),
		tracer:     tracer,
	}
}

// RecordAttendance sends one attendance request. It is called once per
// resolved identity per session and never retried here.
func (c *Client) RecordAttendance(ctx context.Context, req gate.AttendanceRequest) error {
	ctx, span := c.tracer.Start(ctx, "attendance_client.record",
		trace.WithAttributes(
			attribute.String("session_id", req.SessionID.String()),
			attribute.String("identity_id", req.Identity.ID),
			attribute.String("gate_id", req.GateID),
		))
	defer span.End()

	body, contentType, err := encodeForm(req)
	if err != nil {
		return c.fail(span, fmt.Errorf("encoding attendance form: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return c.fail(span, err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.fail(span, fmt.Errorf("attendance request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return c.fail(span, fmt.Errorf("reading attendance response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(span, fmt.Errorf("attendance service returned status %d", resp.StatusCode))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return c.fail(span, fmt.Errorf("decoding attendance response: %w", err))
	}
	if !out.Success {
		return c.fail(span, fmt.Errorf("%w: %s", errRejected, out.Message))
	}

	if out.Record != nil {
		span.SetAttributes(attribute.String("record_id", out.Record.ID))
		c.logger.Debug(ctx, "Attendance record created", "record_id", out.Record.ID, "identity_id", req.Identity.ID)
	}
	return nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "attendance failed")
	return err
}

func encodeForm(req gate.AttendanceRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"identity_id", req.Identity.ID},
		{"name", req.Identity.Name},
		{"confidence", strconv.FormatFloat(req.Identity.Confidence, 'f', 4, 64)},
		{"session_id", req.SessionID.String()},
		{"gate_id", req.GateID},
		{"site_id", req.SiteID},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if !req.Frame.Empty() {
		contentType := req.Frame.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="frame.jpg"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(req.Frame.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
