package intent

import (
	"regexp"

	"github.com/af-corp/hearth/internal/types"
)

// Rule maps a pattern to an intent with a confidence weight.
type Rule struct {
	Name   string
	Intent string
	Regex  *regexp.Regexp
	Weight float64 // 0.0 to 1.0
}

const devicePattern = `(lights?|lamps?|thermostat|fan|tv|television|door|locks?|garage|blinds|shades|alarm|heat(er|ing)?|ac|air conditioning|speaker|music)`

// DefaultRules returns the built-in classification rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "switch_device",
			Intent: types.IntentControl,
			Regex:  regexp.MustCompile(`(?i)\b(turn|switch|flip)\s+(on|off)\b|\b(turn|switch)\s+.+\s+(on|off)\b`),
			Weight: 0.9,
		},
		{
			Name:   "device_verb",
			Intent: types.IntentControl,
			Regex:  regexp.MustCompile(`(?i)\b(dim|brighten|lock|unlock|open|close|arm|disarm|start|stop|pause|mute)\s+(the\s+)?(\w+\s+)?` + devicePattern + `\b`),
			Weight: 0.9,
		},
		{
			Name:   "set_level",
			Intent: types.IntentControl,
			Regex:  regexp.MustCompile(`(?i)\bset\s+(the\s+)?(\w+\s+)?(thermostat|temperature|heat|ac|lights?|volume|brightness)\s+to\b`),
			Weight: 0.95,
		},
		{
			Name:   "weather",
			Intent: "weather",
			Regex:  regexp.MustCompile(`(?i)\b(weather|forecast|rain(ing)?|snow(ing)?|sunny|cloudy|humid(ity)?|windy|umbrella|temperature (outside|in))\b`),
			Weight: 0.9,
		},
		{
			Name:   "sports",
			Intent: "sports",
			Regex:  regexp.MustCompile(`(?i)\b(score|scores|game|games|match|standings|playoffs?|season|won|lost|beat|kickoff|ravens|orioles|yankees|lakers|celtics|patriots|eagles)\b`),
			Weight: 0.85,
		},
		{
			Name:   "dining",
			Intent: "dining",
			Regex:  regexp.MustCompile(`(?i)\b(restaurants?|dinner|lunch|breakfast|brunch|eat|food|reservations?|menu|pizza|sushi|takeout|delivery)\b`),
			Weight: 0.85,
		},
		{
			Name:   "flights",
			Intent: "flights",
			Regex:  regexp.MustCompile(`(?i)\b(flights?|airport|departures?|arrivals?|landed|land|boarding|gate|delayed|airline)\b`),
			Weight: 0.85,
		},
		{
			Name:   "news",
			Intent: "news",
			Regex:  regexp.MustCompile(`(?i)\b(news|headlines?|happening in the world|breaking)\b`),
			Weight: 0.85,
		},
		{
			Name:   "events",
			Intent: "events",
			Regex:  regexp.MustCompile(`(?i)\b(events?|concerts?|festivals?|shows|tickets|things to do|what's on)\b`),
			Weight: 0.8,
		},
		{
			Name:   "explicit_search",
			Intent: types.IntentWebSearch,
			Regex:  regexp.MustCompile(`(?i)\b(search( for)?|look up|google)\b`),
			Weight: 0.8,
		},
		{
			Name:   "open_question",
			Intent: types.IntentGeneral,
			Regex:  regexp.MustCompile(`(?i)^\s*(who|what|when|where|why|how)\b`),
			Weight: 0.4,
		},
	}
}
