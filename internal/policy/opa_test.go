package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/types"
)

func loadDefault(t *testing.T) *Evaluator {
	t.Helper()
	e := NewEvaluator(config.PolicyConfig{EvaluationTimeout: 500 * time.Millisecond}, nil)
	if err := e.Load(); err != nil {
		t.Fatalf("failed to load built-in policy: %v", err)
	}
	return e
}

func TestEvaluator_OwnerMayOperateAnything(t *testing.T) {
	e := loadDefault(t)

	for _, device := range []string{"lock", "alarm", "garage door", "light"} {
		allowed, reason, err := e.Evaluate(context.Background(), Input{Mode: "owner", Device: device, Action: "unlock"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Errorf("owner denied %s: %s", device, reason)
		}
	}
}

func TestEvaluator_GuestRestrictedDevices(t *testing.T) {
	e := loadDefault(t)

	tests := []struct {
		device  string
		allowed bool
	}{
		{"lock", false},
		{"alarm", false},
		{"garage door", false},
		{"light", true},
		{"tv", true},
	}
	for _, tt := range tests {
		allowed, reason, err := e.Evaluate(context.Background(), Input{Mode: "guest", Device: tt.device, Action: "open"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed != tt.allowed {
			t.Errorf("guest %s: allowed = %v, want %v (reason %q)", tt.device, allowed, tt.allowed, reason)
		}
		if !allowed && reason != "guests cannot operate the "+tt.device {
			t.Errorf("unexpected reason %q", reason)
		}
	}
}

func TestEvaluator_GuestThermostatCeiling(t *testing.T) {
	e := loadDefault(t)

	allowed, _, _ := e.Evaluate(context.Background(), Input{Mode: "guest", Device: "thermostat", Action: "set", Value: "72"})
	if !allowed {
		t.Error("expected guest to set 72 degrees")
	}
	allowed, reason, _ := e.Evaluate(context.Background(), Input{Mode: "guest", Device: "thermostat", Action: "set", Value: "85"})
	if allowed {
		t.Error("expected guest to be denied 85 degrees")
	}
	if reason == "" {
		t.Error("expected a denial reason")
	}
}

func TestEvaluator_FailsClosedWithoutPolicy(t *testing.T) {
	e := NewEvaluator(config.PolicyConfig{}, nil)
	allowed, reason, err := e.Evaluate(context.Background(), Input{Mode: "owner", Device: "light", Action: "on"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed || reason != "no policies loaded" {
		t.Errorf("expected fail-closed, got allowed=%v reason=%q", allowed, reason)
	}
}

func TestEvaluator_LoadFromBundleDir(t *testing.T) {
	dir := t.TempDir()
	custom := `
package hearth.device

import rego.v1

default allow := false
default reason := "locked down"
`
	if err := os.WriteFile(filepath.Join(dir, "lockdown.rego"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEvaluator(config.PolicyConfig{BundlePath: dir}, nil)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	allowed, reason, _ := e.Evaluate(context.Background(), Input{Mode: "owner", Device: "light", Action: "on"})
	if allowed || reason != "locked down" {
		t.Errorf("expected custom policy to deny, got allowed=%v reason=%q", allowed, reason)
	}
}

func TestReadBundle_SortedAndSkipsRegoTests(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zones.rego", "device.rego", "device_test.rego", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("package hearth.device\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	mods, err := readBundle(dir)
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	var names []string
	for _, m := range mods {
		names = append(names, m.name)
	}
	if len(names) != 2 || names[0] != "device.rego" || names[1] != "zones.rego" {
		t.Errorf("expected [device.rego zones.rego], got %v", names)
	}
}

func TestEvaluator_MissingBundleDir(t *testing.T) {
	e := NewEvaluator(config.PolicyConfig{BundlePath: filepath.Join(t.TempDir(), "absent")}, nil)
	if err := e.Load(); err == nil {
		t.Error("expected error for missing bundle directory")
	}
}

func TestEvaluator_InvalidModule(t *testing.T) {
	e := NewEvaluator(config.PolicyConfig{}, nil)
	if err := e.LoadFromModules(map[string]string{"bad.rego": "package hearth.device\nallow := "}); err == nil {
		t.Error("expected compile error")
	}
}

func TestAuthorize(t *testing.T) {
	e := loadDefault(t)

	p := e.Authorize(context.Background(), types.ModeGuest, "lock", "unlock", "", "")
	if p.DeviceControl {
		t.Error("expected guest lock to be denied")
	}
	if p.Mode != types.ModeGuest {
		t.Errorf("expected guest mode, got %s", p.Mode)
	}

	p = e.Authorize(context.Background(), types.ModeGuest, "light", "on", "kitchen", "")
	if !p.DeviceControl {
		t.Errorf("expected guest light to be allowed: %s", p.Reason)
	}
}
