package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/types"
)

// Controller executes device commands.
type Controller interface {
	Execute(ctx context.Context, cmd Command) (*Result, error)
}

// Result is the outcome of a successful command.
type Result struct {
	Command Command `json:"command"`
	Service string  `json:"service"`
	Entity  string  `json:"entity_id"`
	Message string  `json:"message"`
}

// HTTPController calls a Home Assistant compatible services API:
// POST {base_url}/api/services/{domain}/{service}.
type HTTPController struct {
	cfg    config.DeviceConfig
	client *http.Client
}

func NewHTTPController(cfg config.DeviceConfig) *HTTPController {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &HTTPController{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type serviceCall struct {
	domain  string
	service string
	data    map[string]any
}

// plan maps a command onto a domain service call.
func plan(cmd Command) (serviceCall, error) {
	var call serviceCall
	value, _ := strconv.Atoi(cmd.Value)

	switch cmd.Device {
	case "light":
		call.domain = "light"
		switch cmd.Action {
		case "on", "off":
			call.service = "turn_" + cmd.Action
		case "dim":
			call.service = "turn_on"
			call.data = map[string]any{"brightness_pct": orDefault(value, 30)}
		case "brighten":
			call.service = "turn_on"
			call.data = map[string]any{"brightness_pct": orDefault(value, 100)}
		case "set":
			call.service = "turn_on"
			call.data = map[string]any{"brightness_pct": value}
		}
	case "lock":
		call.domain = "lock"
		switch cmd.Action {
		case "lock", "close":
			call.service = "lock"
		case "unlock", "open":
			call.service = "unlock"
		}
	case "garage door", "blinds":
		call.domain = "cover"
		switch cmd.Action {
		case "open", "up":
			call.service = "open_cover"
		case "close", "down":
			call.service = "close_cover"
		case "stop":
			call.service = "stop_cover"
		case "set":
			call.service = "set_cover_position"
			call.data = map[string]any{"position": value}
		}
	case "thermostat":
		call.domain = "climate"
		switch cmd.Action {
		case "on", "off":
			call.service = "turn_" + cmd.Action
		case "set":
			call.service = "set_temperature"
			call.data = map[string]any{"temperature": value}
		}
	case "fan":
		call.domain = "fan"
		switch cmd.Action {
		case "on", "start":
			call.service = "turn_on"
		case "off", "stop":
			call.service = "turn_off"
		case "set":
			call.service = "set_percentage"
			call.data = map[string]any{"percentage": value}
		}
	case "tv", "speaker":
		call.domain = "media_player"
		switch cmd.Action {
		case "on", "off":
			call.service = "turn_" + cmd.Action
		case "pause":
			call.service = "media_pause"
		case "start":
			call.service = "media_play"
		case "stop":
			call.service = "media_stop"
		case "mute":
			call.service = "volume_mute"
			call.data = map[string]any{"is_volume_muted": true}
		case "set":
			call.service = "volume_set"
			call.data = map[string]any{"volume_level": float64(value) / 100}
		}
	case "alarm":
		call.domain = "alarm_control_panel"
		switch cmd.Action {
		case "arm", "on":
			call.service = "alarm_arm_away"
		case "disarm", "off":
			call.service = "alarm_disarm"
		}
	}
	if call.service == "" {
		return call, fmt.Errorf("%s cannot %s", cmd.Device, cmd.Action)
	}
	return call, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// EntityID names the target entity: {domain}.{room}_{device}, or
// {domain}.all when no room was given.
func EntityID(domain string, cmd Command) string {
	if cmd.Room == "" {
		return domain + ".all"
	}
	slug := strings.ReplaceAll(cmd.Room+" "+cmd.Device, " ", "_")
	return domain + "." + slug
}

func (c *HTTPController) Execute(ctx context.Context, cmd Command) (*Result, error) {
	call, err := plan(cmd)
	if err != nil {
		return nil, err
	}
	entity := EntityID(call.domain, cmd)
	payload := map[string]any{"entity_id": entity}
	for k, v := range call.data {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal device payload: %w", err)
	}
	url := fmt.Sprintf("%s/api/services/%s/%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), call.domain, call.service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create device request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.UpstreamError{Backend: "device", Timeout: ctx.Err() != nil, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &types.UpstreamError{Backend: "device", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
	io.Copy(io.Discard, resp.Body)

	return &Result{
		Command: cmd,
		Service: call.domain + "." + call.service,
		Entity:  entity,
		Message: cmd.Describe(),
	}, nil
}
