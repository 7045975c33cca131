package intent

import (
	"context"
	"testing"

	"github.com/af-corp/hearth/internal/types"
)

func TestPatternClassifier_Intents(t *testing.T) {
	c := NewPatternClassifier()
	tests := []struct {
		text   string
		intent string
	}{
		{"turn off bedroom lights", types.IntentControl},
		{"turn the living room lights on", types.IntentControl},
		{"set the thermostat to 72", types.IntentControl},
		{"lock the front door", types.IntentControl},
		{"what's the weather in Baltimore", "weather"},
		{"will it rain tomorrow", "weather"},
		{"did the Ravens win", "sports"},
		{"find a sushi restaurant nearby", "dining"},
		{"is flight UA 212 delayed", "flights"},
		{"read me the headlines", "news"},
		{"any concerts this weekend", "events"},
		{"search for the tallest building in Europe", types.IntentWebSearch},
		{"who invented the telephone", types.IntentGeneral},
	}
	for _, tt := range tests {
		res, err := c.Classify(context.Background(), Input{Text: tt.text})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.text, err)
		}
		if res.Intent != tt.intent {
			t.Errorf("%q: expected %s, got %s", tt.text, tt.intent, res.Intent)
		}
		if res.Classifier != "pattern" {
			t.Errorf("%q: expected classifier pattern, got %s", tt.text, res.Classifier)
		}
	}
}

func TestPatternClassifier_ControlConfidence(t *testing.T) {
	res, _ := NewPatternClassifier().Classify(context.Background(), Input{Text: "turn off bedroom lights"})
	if res.Confidence < 0.9 {
		t.Errorf("expected confidence >= 0.9, got %f", res.Confidence)
	}
	if res.Entities["room"] != "bedroom" || res.Entities["device"] != "lights" || res.Entities["action"] != "off" {
		t.Errorf("unexpected entities: %v", res.Entities)
	}
}

func TestPatternClassifier_MultiIntent(t *testing.T) {
	res, _ := NewPatternClassifier().Classify(context.Background(), Input{
		Text: "what's the weather for the Ravens tonight",
	})
	if res.Intent != "weather" {
		t.Fatalf("expected weather as primary, got %s", res.Intent)
	}
	if len(res.SecondaryIntents) != 1 || res.SecondaryIntents[0] != "sports" {
		t.Errorf("expected sports as secondary, got %v", res.SecondaryIntents)
	}
}

func TestPatternClassifier_UsesHintForFollowUp(t *testing.T) {
	res, _ := NewPatternClassifier().Classify(context.Background(), Input{
		Text:       "what about tomorrow",
		IntentHint: "weather",
	})
	if res.Intent != "weather" {
		t.Errorf("expected hinted intent weather, got %s", res.Intent)
	}
	if res.Confidence != hintConfidence {
		t.Errorf("expected hint confidence %f, got %f", hintConfidence, res.Confidence)
	}
}

func TestPatternClassifier_UnknownIsLowConfidence(t *testing.T) {
	res, _ := NewPatternClassifier().Classify(context.Background(), Input{Text: "blorp the zindle"})
	if res.Intent != types.IntentGeneral {
		t.Errorf("expected general, got %s", res.Intent)
	}
	if res.Confidence >= 0.5 {
		t.Errorf("expected confidence below the discovery threshold, got %f", res.Confidence)
	}
}

func TestPatternClassifier_SessionEntitiesFillGaps(t *testing.T) {
	res, _ := NewPatternClassifier().Classify(context.Background(), Input{
		Text:     "will it rain",
		Entities: map[string]string{"location": "Boston"},
	})
	if res.Entities["location"] != "Boston" {
		t.Errorf("expected location from session, got %v", res.Entities)
	}
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		text string
		key  string
		want string
	}{
		{"what's the weather in Baltimore", "location", "Baltimore"},
		{"flights to New York tomorrow", "location", "New York"},
		{"flights to New York tomorrow", "date", "tomorrow"},
		{"set the thermostat to 68 degrees", "value", "68"},
		{"dim the kitchen lights", "room", "kitchen"},
		{"dim the kitchen lights", "action", "dim"},
		{"when do the Orioles play", "team", "orioles"},
		{"events on Saturday", "date", "saturday"},
	}
	for _, tt := range tests {
		got := ExtractEntities(tt.text)
		if got[tt.key] != tt.want {
			t.Errorf("ExtractEntities(%q)[%s] = %q, want %q", tt.text, tt.key, got[tt.key], tt.want)
		}
	}
}
