// Package engineclient is a typed, engine-agnostic API surface (ping,
// list, inspect, lifecycle actions, stats, logs) built on a
// pkg/transport.Transport. It never imports a Docker or Podman SDK; every
// request is hand-shaped JSON over the transport's request/response pair.
package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/transport"
)

// requestTimeout bounds a single non-streaming request.
const requestTimeout = 30 * time.Second

type query map[string]string

// Client wraps a Transport with the engine's HTTP API shape.
type Client struct {
	t transport.Transport
}

// New wraps t as an engine client. Closing the Client closes t.
func New(t transport.Transport) *Client {
	return &Client{t: t}
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.t.Close()
}

func (c *Client) do(ctx context.Context, method, path string, q query, body any) (*transport.Response, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, enginerr.Wrap(enginerr.ProtocolError, "encoding request body", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	values := url.Values{}
	for k, v := range q {
		values.Set(k, v)
	}

	req := transport.Request{
		Method:  method,
		Path:    apiVersion + path,
		Query:   values,
		Headers: map[string]string{},
	}
	if bodyReader != nil {
		req.Body = bodyReader
	}

	resp, err := c.t.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Ping checks that the engine is reachable and speaking its HTTP API.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, "GET", "/_ping", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, 200)
}

// EngineInfo is the subset of GET /info this system surfaces.
type EngineInfo struct {
	ServerVersion string
	OperatingSystem string
	NCPU          int
}

type apiInfo struct {
	ServerVersion   string `json:"ServerVersion"`
	OperatingSystem string `json:"OperatingSystem"`
	NCPU            int    `json:"NCPU"`
}

// Info fetches engine-level metadata (version, OS, CPU count).
func (c *Client) Info(ctx context.Context) (EngineInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, "GET", "/info", nil, nil)
	if err != nil {
		return EngineInfo{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, 200); err != nil {
		return EngineInfo{}, err
	}

	var raw apiInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return EngineInfo{}, enginerr.Wrap(enginerr.ParseError, "decoding info response", err)
	}
	return EngineInfo{ServerVersion: raw.ServerVersion, OperatingSystem: raw.OperatingSystem, NCPU: raw.NCPU}, nil
}

// ListContainers returns every container, or only running ones when
// showStopped is false.
func (c *Client) ListContainers(ctx context.Context, showStopped bool) ([]enginetypes.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, "GET", "/containers/json", query{"all": strconv.FormatBool(showStopped)}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, 200); err != nil {
		return nil, err
	}

	var raw []apiContainerSummary
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, enginerr.Wrap(enginerr.ParseError, "decoding container list", err)
	}

	out := make([]enginetypes.Container, 0, len(raw))
	for _, s := range raw {
		out = append(out, s.toContainer())
	}
	return out, nil
}

// Inspect fetches detailed state for a single container.
func (c *Client) Inspect(ctx context.Context, containerID string) (enginetypes.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, "GET", "/containers/"+containerID+"/json", nil, nil)
	if err != nil {
		return enginetypes.Container{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, 200); err != nil {
		return enginetypes.Container{}, err
	}

	var raw apiContainerInspect
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return enginetypes.Container{}, enginerr.Wrap(enginerr.ParseError, "decoding inspect response", err)
	}

	state := enginetypes.ContainerState(raw.State.Status)
	createdAt, _ := time.Parse(time.RFC3339Nano, raw.Created)
	return enginetypes.Container{
		ID:        raw.Id,
		Name:      trimLeadingSlash(raw.Name),
		Image:     raw.Image,
		State:     state,
		CreatedAt: createdAt,
	}, nil
}

// Start starts a stopped container.
func (c *Client) Start(ctx context.Context, containerID string) error {
	return c.lifecycleAction(ctx, "/containers/"+containerID+"/start", nil)
}

// Stop stops a running container, giving it timeout (seconds) to exit
// gracefully before the engine kills it. A non-positive timeout uses the
// engine's default grace period.
func (c *Client) Stop(ctx context.Context, containerID string, timeoutSeconds int) error {
	q := query{}
	if timeoutSeconds > 0 {
		q["t"] = strconv.Itoa(timeoutSeconds)
	}
	return c.lifecycleAction(ctx, "/containers/"+containerID+"/stop", q)
}

// Restart stops then starts a container in one engine-side call.
func (c *Client) Restart(ctx context.Context, containerID string, timeoutSeconds int) error {
	q := query{}
	if timeoutSeconds > 0 {
		q["t"] = strconv.Itoa(timeoutSeconds)
	}
	return c.lifecycleAction(ctx, "/containers/"+containerID+"/restart", q)
}

// Pause suspends all processes in a container.
func (c *Client) Pause(ctx context.Context, containerID string) error {
	return c.lifecycleAction(ctx, "/containers/"+containerID+"/pause", nil)
}

// Unpause resumes a paused container.
func (c *Client) Unpause(ctx context.Context, containerID string) error {
	return c.lifecycleAction(ctx, "/containers/"+containerID+"/unpause", nil)
}

// Remove deletes a container. force kills a running container instead of
// failing; removeVolumes also deletes anonymous volumes attached to it.
func (c *Client) Remove(ctx context.Context, containerID string, force, removeVolumes bool) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	q := query{
		"force": strconv.FormatBool(force),
		"v":     strconv.FormatBool(removeVolumes),
	}
	resp, err := c.do(ctx, "DELETE", "/containers/"+containerID, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, 204)
}

func (c *Client) lifecycleAction(ctx context.Context, path string, q query) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, "POST", path, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// 204 is the normal success response; 304 means the container was
	// already in the requested state, which this system treats as success
	// rather than surfacing a conflict to the user.
	return checkStatus(resp, 204, 304)
}
