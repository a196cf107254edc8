// Package client is the remote observer side of the HTTP API: it mirrors
// loop snapshots locally and sends commands.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mattjoyce/plantctl/internal/api"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/trace"
)

// ErrConsumerBusy is returned by Subscribe when another observer already
// drains the snapshot stream.
var ErrConsumerBusy = errors.New("snapshot stream already has a consumer")

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Client talks to one plantctl API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

// New returns a client for baseURL. apiKey may be empty.
func New(baseURL, apiKey string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base:   strings.TrimRight(u.String(), "/"),
		apiKey: apiKey,
		http:   &http.Client{},
		logger: logger.With("component", "client"),
	}, nil
}

// Registry fetches channel metadata and the strategy catalog.
func (c *Client) Registry(ctx context.Context) (api.RegistryResponse, error) {
	var out api.RegistryResponse
	err := c.getJSON(ctx, "/registry", &out)
	return out, err
}

// Snapshot fetches the current state without consuming the mirror stream.
func (c *Client) Snapshot(ctx context.Context) (protocol.Snapshot, error) {
	var env protocol.Envelope
	if err := c.getJSON(ctx, "/snapshot", &env); err != nil {
		return protocol.Snapshot{}, err
	}
	return protocol.DecodeSnapshot(env)
}

// Ticks fetches up to limit recent tick records.
func (c *Client) Ticks(ctx context.Context, limit int) ([]trace.Entry, error) {
	var out api.TicksResponse
	if err := c.getJSON(ctx, "/ticks?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out.Ticks, nil
}

// Send posts a command envelope.
func (c *Client) Send(ctx context.Context, env protocol.Envelope) error {
	if env.Type == "" || env.Type == protocol.TypeFullState {
		return fmt.Errorf("not a command type: %q", env.Type)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/commands", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	c.logger.Debug("command sent", "type", env.Type)
	return nil
}

// StartController asks the loop to activate label.
func (c *Client) StartController(ctx context.Context, label string) error {
	return c.sendPayload(ctx, protocol.TypeStartController, protocol.StartController{ControlName: label})
}

// StopController deactivates the active strategy.
func (c *Client) StopController(ctx context.Context) error {
	return c.sendPayload(ctx, protocol.TypeStopController, protocol.StopController{})
}

// UpdateVariable sets a tunable on label. value is parsed by the loop.
func (c *Client) UpdateVariable(ctx context.Context, label, name, value string) error {
	return c.sendPayload(ctx, protocol.TypeUpdateVariable, protocol.UpdateVariable{
		ControlName: label,
		VarName:     name,
		NewValue:    protocol.TextValue(value),
	})
}

// UpdateSetpoint replaces the leading loop setpoints.
func (c *Client) UpdateSetpoint(ctx context.Context, values []float64) error {
	return c.sendPayload(ctx, protocol.TypeUpdateSetpoint, protocol.UpdateSetpoint{Value: values})
}

func (c *Client) sendPayload(ctx context.Context, typ string, payload any) error {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	return c.Send(ctx, env)
}

// Subscribe streams snapshots to fn until ctx ends or the stream closes.
// fn runs on the calling goroutine.
func (c *Client) Subscribe(ctx context.Context, fn func(protocol.Snapshot)) error {
	return c.stream(ctx, "/snapshots", nil, func(f frame) error {
		env, err := protocol.Unmarshal(f.data)
		if err != nil {
			return err
		}
		if env.Type != protocol.TypeFullState {
			c.logger.Warn("ignoring unexpected envelope", "type", env.Type)
			return nil
		}
		snap, err := protocol.DecodeSnapshot(env)
		if err != nil {
			return err
		}
		fn(snap)
		return nil
	})
}

// Events streams loop events newer than lastID to fn.
func (c *Client) Events(ctx context.Context, lastID int64, fn func(events.Event)) error {
	header := http.Header{}
	if lastID > 0 {
		header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}
	return c.stream(ctx, "/events", header, func(f frame) error {
		id, _ := strconv.ParseInt(f.id, 10, 64)
		fn(events.Event{ID: id, Type: f.event, Data: json.RawMessage(f.data)})
		return nil
	})
}

func (c *Client) stream(ctx context.Context, path string, header http.Header, fn func(frame) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict && path == "/snapshots" {
		return ErrConsumerBusy
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	r := bufio.NewReader(resp.Body)
	for {
		f, err := readFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := fn(f); err != nil {
			return fmt.Errorf("decode %s frame: %w", path, err)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
