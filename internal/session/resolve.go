package session

import (
	"regexp"

	"github.com/af-corp/hearth/internal/types"
)

// ParamTemperature is the session parameter holding the caller's sampling
// temperature.
const ParamTemperature = "temperature"

// Reference kinds detected in a follow-up query.
const (
	RefPronoun  = "pronoun"
	RefEllipsis = "ellipsis"
	RefRoom     = "room"
)

var (
	pronounRe  = regexp.MustCompile(`(?i)\b(them|it|those|these|that|they|there)\b`)
	ellipsisRe = regexp.MustCompile(`(?i)^\s*(what|how)\s+about\b|^\s*and\b|^\s*(same|again)\b|^\s*(what|how)\s+(if|else)\b`)
	roomRefRe  = regexp.MustCompile(`(?i)\b(in here|this room|in this room|the room)\b`)
)

// inheritable entity kinds per reference kind.
var (
	pronounKeys  = []string{"device", "room", "location", "team", "date"}
	ellipsisKeys = []string{"device", "room", "location", "team", "date", "action"}
)

// Resolution is what the current turn inherits from the session.
type Resolution struct {
	// Entities carried over from the prior turn. The current query's own
	// entities take precedence over these.
	Entities   map[string]string
	// Parameters carried over from the prior turn on a follow-up.
	Parameters map[string]string
	IntentHint string
	References []string
}

// Resolve detects pronoun, ellipsis and room-relative references in text and
// returns the entities they point to. room is the room the request came from.
func Resolve(text, room string, prior *types.ConversationContext) Resolution {
	res := Resolution{Entities: make(map[string]string), Parameters: make(map[string]string)}

	if roomRefRe.MatchString(text) {
		res.References = append(res.References, RefRoom)
		switch {
		case room != "":
			res.Entities["room"] = room
		case prior != nil && prior.Room != "":
			res.Entities["room"] = prior.Room
		}
	}

	if prior == nil {
		return res
	}

	if ellipsisRe.MatchString(text) {
		res.References = append(res.References, RefEllipsis)
		res.IntentHint = prior.LastIntent
		inherit(res.Entities, prior.Entities, ellipsisKeys)
	}
	if pronounRe.MatchString(text) {
		res.References = append(res.References, RefPronoun)
		inherit(res.Entities, prior.Entities, pronounKeys)
	}
	if len(res.References) > 0 {
		for k, v := range prior.Parameters {
			res.Parameters[k] = v
		}
	}
	return res
}

func inherit(dst, src map[string]string, keys []string) {
	for _, k := range keys {
		if _, set := dst[k]; set {
			continue
		}
		if v, ok := src[k]; ok && v != "" {
			dst[k] = v
		}
	}
}
