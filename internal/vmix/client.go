// Package vmix controls the external recording device over its HTTP
// API: raw function calls, state queries, replay mark-in/mark-out
// orchestration and SMPTE timecode handling.
package vmix

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/observability"
)

// Device function names understood by the HTTP API.
const (
	FuncStartRecording        = "StartRecording"
	FuncStopRecording         = "StopRecording"
	FuncReplayMarkIn          = "ReplayMarkIn"
	FuncReplayMarkOut         = "ReplayMarkOut"
	FuncReplayMarkInOutLive   = "ReplayMarkInOutLive"
	FuncReplayMarkCancel      = "ReplayMarkCancel"
	FuncReplayExportLastEvent = "ReplayExportLastEvent"
	FuncReplayPlayLastEvent   = "ReplayPlayLastEvent"
	FuncReplayStopEvents      = "ReplayStopEvents"
)

// DeviceState is the parsed device status document.
type DeviceState struct {
	Recording         bool
	RecordingDuration time.Duration
	Streaming         bool
	Inputs            []Input
}

// Input is one device input as reported by the state query.
type Input struct {
	Number int
	Title  string
	State  string
}

// Client issues commands to the recording device. Any 2xx response is
// success; everything else is a device command error.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *observability.DeviceMetrics
	logger  *slog.Logger
}

// NewClient creates a device API client. metrics may be nil.
func NewClient(settings conf.DeviceSettings, metrics *observability.DeviceMetrics) *Client {
	timeout := time.Duration(settings.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d/api", settings.Host, settings.Port),
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logging.ForService("vmix"),
	}
}

// SendFunction issues a device function call. params may be nil.
func (c *Client) SendFunction(ctx context.Context, function string, params url.Values) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("Function", function)

	if c.metrics != nil {
		c.metrics.Commands.WithLabelValues(function).Inc()
	}

	reqURL := c.baseURL + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return c.commandError(function, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.commandError(function, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.commandError(function, fmt.Errorf("device returned status %d", resp.StatusCode))
	}

	c.logger.Debug("device function succeeded", "function", function)
	return nil
}

func (c *Client) commandError(function string, err error) error {
	if c.metrics != nil {
		c.metrics.CommandErrors.WithLabelValues(function).Inc()
	}
	category := errors.CategoryDeviceCommand
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("vmix").
		Category(category).
		Context("function", function).
		Build()
}

// xmlFlag is a boolean element that may carry a duration attribute.
type xmlFlag struct {
	Duration float64 `xml:"duration,attr"`
	Value    string  `xml:",chardata"`
}

func (f *xmlFlag) active() bool {
	// A missing element means false.
	return f != nil && strings.EqualFold(strings.TrimSpace(f.Value), "true")
}

type xmlInput struct {
	Number int    `xml:"number,attr"`
	Title  string `xml:"title,attr"`
	State  string `xml:"state,attr"`
}

type xmlState struct {
	XMLName   xml.Name   `xml:"vmix"`
	Recording *xmlFlag   `xml:"recording"`
	Streaming *xmlFlag   `xml:"streaming"`
	Inputs    []xmlInput `xml:"inputs>input"`
}

// State queries and parses the device status document. Missing
// recording/streaming elements are tolerated and read as false.
func (c *Client) State(ctx context.Context) (*DeviceState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, c.stateError(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.stateError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.stateError(fmt.Errorf("device returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.stateError(err)
	}

	var parsed xmlState
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, c.stateError(fmt.Errorf("failed to parse state document: %w", err))
	}

	state := &DeviceState{
		Recording: parsed.Recording.active(),
		Streaming: parsed.Streaming.active(),
	}
	if parsed.Recording != nil {
		state.RecordingDuration = time.Duration(parsed.Recording.Duration * float64(time.Second))
	}
	for _, in := range parsed.Inputs {
		state.Inputs = append(state.Inputs, Input{Number: in.Number, Title: in.Title, State: in.State})
	}
	return state, nil
}

func (c *Client) stateError(err error) error {
	return errors.New(err).
		Component("vmix").
		Category(errors.CategoryDeviceState).
		Build()
}

// IsReachable reports whether the device answers its state query.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.State(ctx)
	return err == nil
}

// StartRecording starts the device's main recording.
func (c *Client) StartRecording(ctx context.Context) error {
	return c.SendFunction(ctx, FuncStartRecording, nil)
}

// StopRecording stops the device's main recording.
func (c *Client) StopRecording(ctx context.Context) error {
	return c.SendFunction(ctx, FuncStopRecording, nil)
}

// ToggleRecording flips the device's main recording state based on a
// fresh state query.
func (c *Client) ToggleRecording(ctx context.Context) error {
	recording, err := c.IsRecording(ctx)
	if err != nil {
		return err
	}
	if recording {
		return c.StopRecording(ctx)
	}
	return c.StartRecording(ctx)
}

// IsRecording reports the device's main recording state.
func (c *Client) IsRecording(ctx context.Context) (bool, error) {
	state, err := c.State(ctx)
	if err != nil {
		return false, err
	}
	return state.Recording, nil
}
