// Package policy evaluates device-control permissions with OPA.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/types"
)

//go:embed default.rego
var defaultPolicy string

const query = "[data.hearth.device.allow, data.hearth.device.reason]"

// Input is the document a policy sees.
type Input struct {
	Mode   string `json:"mode"`
	Device string `json:"device"`
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	Value  string `json:"value,omitempty"`
	Time   Time   `json:"time"`
}

type Time struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator holds the compiled device policy. It fails closed: with no
// policy loaded, or on evaluation error, commands are denied.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      config.PolicyConfig
	logger   *slog.Logger
}

func NewEvaluator(cfg config.PolicyConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

// Load compiles the .rego files under the bundle path, or the built-in
// policy when no path is configured.
func (e *Evaluator) Load() error {
	if e.cfg.BundlePath == "" {
		return e.compile(builtinModules())
	}
	mods, err := readBundle(e.cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load policy bundle: %w", err)
	}
	if len(mods) == 0 {
		e.logger.Warn("no rego files found, using built-in device policy", "path", e.cfg.BundlePath)
		mods = builtinModules()
	}
	if err := e.compile(mods); err != nil {
		return err
	}
	e.logger.Info("device policy loaded", "path", e.cfg.BundlePath, "modules", len(mods))
	return nil
}

// LoadFromModules compiles policies from module sources keyed by file name.
func (e *Evaluator) LoadFromModules(sources map[string]string) error {
	return e.compile(sortedModules(sources))
}

func (e *Evaluator) compile(mods []module) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for _, m := range mods {
		opts = append(opts, rego.Module(m.name, m.src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against input.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg.EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// Authorize evaluates a device command for a request mode and returns the
// resulting permissions.
func (e *Evaluator) Authorize(ctx context.Context, mode types.Mode, device, action, room, value string) types.Permissions {
	now := time.Now()
	allowed, reason, err := e.Evaluate(ctx, Input{
		Mode:   string(mode),
		Device: device,
		Action: action,
		Room:   room,
		Value:  value,
		Time:   Time{Hour: now.Hour(), Day: now.Weekday().String()},
	})
	if err != nil {
		e.logger.Error("policy evaluation failed", "error", err)
	}
	return types.Permissions{Mode: mode, DeviceControl: allowed, Reason: reason}
}
