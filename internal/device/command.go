// Package device turns control queries into device-service calls.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIncomplete means the query did not name both a device and an action.
var ErrIncomplete = errors.New("incomplete device command")

// Command is a normalized device instruction.
type Command struct {
	Device string `json:"device"`
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	Value  string `json:"value,omitempty"`
}

var deviceAliases = map[string]string{
	"light":            "light",
	"lights":           "light",
	"lamp":             "light",
	"lamps":            "light",
	"lock":             "lock",
	"locks":            "lock",
	"door":             "lock",
	"garage":           "garage door",
	"thermostat":       "thermostat",
	"heat":             "thermostat",
	"heater":           "thermostat",
	"heating":          "thermostat",
	"ac":               "thermostat",
	"air conditioning": "thermostat",
	"tv":               "tv",
	"television":       "tv",
	"speaker":          "speaker",
	"music":            "speaker",
	"blinds":           "blinds",
	"shades":           "blinds",
	"fan":              "fan",
	"alarm":            "alarm",
}

// ParseCommand builds a Command from extracted entities. A bare value with
// no verb is read as "set".
func ParseCommand(entities map[string]string) (Command, error) {
	dev, ok := deviceAliases[strings.ToLower(entities["device"])]
	if !ok {
		return Command{}, fmt.Errorf("%w: no known device", ErrIncomplete)
	}
	cmd := Command{
		Device: dev,
		Action: strings.ToLower(entities["action"]),
		Room:   strings.ToLower(entities["room"]),
		Value:  entities["value"],
	}
	if cmd.Action == "" && cmd.Value != "" {
		cmd.Action = "set"
	}
	if cmd.Action == "" {
		return Command{}, fmt.Errorf("%w: no action for %s", ErrIncomplete, dev)
	}
	if cmd.Value != "" {
		if _, err := strconv.Atoi(cmd.Value); err != nil {
			return Command{}, fmt.Errorf("invalid value %q", cmd.Value)
		}
	}
	return cmd, nil
}

// Describe is the spoken confirmation for a successful command.
func (c Command) Describe() string {
	target := "the " + c.Device
	if c.Room != "" {
		target = "the " + c.Room + " " + c.Device
	}
	switch c.Action {
	case "on", "off":
		return fmt.Sprintf("OK, %s is %s.", target, c.Action)
	case "lock", "unlock", "open", "close":
		return fmt.Sprintf("OK, %s is %s.", target, pastTense(c.Action))
	case "set":
		if c.Device == "thermostat" {
			return fmt.Sprintf("OK, %s is set to %s degrees.", target, c.Value)
		}
		return fmt.Sprintf("OK, %s is set to %s percent.", target, c.Value)
	default:
		return fmt.Sprintf("OK, %s %s.", pastTense(c.Action), target)
	}
}

func pastTense(action string) string {
	switch action {
	case "stop":
		return "stopped"
	case "dim":
		return "dimmed"
	case "start":
		return "started"
	}
	if strings.HasSuffix(action, "e") {
		return action + "d"
	}
	return action + "ed"
}
