package intent

import (
	"regexp"
	"strings"
)

var (
	roomRe     = regexp.MustCompile(`(?i)\b(living room|master bedroom|bedroom|kitchen|bathroom|office|garage|basement|dining room|den|hallway|nursery|porch|patio|family room|guest room)\b`)
	deviceRe   = regexp.MustCompile(`(?i)\b` + devicePattern + `\b`)
	actionRe   = regexp.MustCompile(`(?i)\b(on|off|dim|brighten|lock|unlock|open|close|arm|disarm|set|start|stop|pause|mute)\b`)
	valueRe    = regexp.MustCompile(`(?i)\bto\s+(\d{1,3})\s*(%|percent|degrees)?`)
	locationRe = regexp.MustCompile(`\b(?:in|for|at|near|to)\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)`)
	dateRe     = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|yesterday|this (morning|afternoon|evening|weekend)|next week|(on )?(monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	teamRe     = regexp.MustCompile(`(?i)\b(ravens|orioles|yankees|red sox|lakers|celtics|patriots|eagles|capitals|commanders|terps)\b`)
)

// ExtractEntities pulls room, device, action, value, location, date and team
// mentions out of text. Missing kinds are absent from the map.
func ExtractEntities(text string) map[string]string {
	out := make(map[string]string)
	if m := roomRe.FindString(text); m != "" {
		out["room"] = strings.ToLower(m)
	}
	if m := deviceRe.FindString(text); m != "" {
		out["device"] = strings.ToLower(m)
	}
	if m := valueRe.FindStringSubmatch(text); m != nil {
		out["value"] = m[1]
	}
	if m := locationRe.FindStringSubmatch(text); m != nil {
		out["location"] = m[1]
	}
	if m := dateRe.FindString(text); m != "" {
		out["date"] = strings.TrimPrefix(strings.ToLower(m), "on ")
	}
	if m := teamRe.FindString(text); m != "" {
		out["team"] = strings.ToLower(m)
	}
	if _, isDevice := out["device"]; isDevice {
		if m := actionRe.FindString(text); m != "" {
			out["action"] = strings.ToLower(m)
		}
	}
	return out
}
