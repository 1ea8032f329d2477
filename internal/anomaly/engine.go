// Package anomaly provides the CEL-based engine for operator-defined tariff
// anomaly rules. Rules are expressions over the derived feature set and are
// hot-reloadable from the repository without a restart.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/tariff"
)

// Engine compiles and evaluates operator-defined anomaly rules. It plugs
// into the tariff scorer as an extra evaluator.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
	logger        *slog.Logger
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.AnomalyRuleConfig
	Program cel.Program
}

// NewEngine creates an anomaly rule engine.
func NewEngine(maxWorkers int, logger *slog.Logger) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	// CEL environment exposing the claim's raw and derived tariff features
	env, err := cel.NewEnv(
		cel.Variable("tarif_rs", cel.DoubleType),
		cel.Variable("tarif_inacbg", cel.DoubleType),
		cel.Variable("tariff_ratio", cel.DoubleType),
		cel.Variable("tariff_diff_percentage", cel.DoubleType),
		cel.Variable("tariff_per_day", cel.DoubleType),
		cel.Variable("procedure_intensity", cel.DoubleType),
		cel.Variable("los_days", cel.IntType),
		cel.Variable("expected_los", cel.IntType),
		cel.Variable("num_procedures", cel.IntType),
		cel.Variable("care_class", cel.StringType),
		cel.Variable("diagnosis_severity", cel.StringType),
		cel.Variable("provider_claims_count", cel.IntType),
		cel.Variable("provider_fraud_history_rate", cel.DoubleType),
		cel.Variable("hospital_fraud_history_rate", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
		logger:        logger,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.AnomalyRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.AnomalyRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads the enabled rules from a config list.
func (e *Engine) LoadRules(configs []*domain.AnomalyRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.AnomalyRuleConfig) error {
	newRules := make(map[string]*CompiledRule)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.AnomalyRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.AnomalyRuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// EvaluateFeatures runs every loaded rule against the feature activation in
// parallel and returns a risk factor per fired rule. A rule that errors is
// logged and treated as not fired; it never aborts the others.
func (e *Engine) EvaluateFeatures(ctx context.Context, tenantID string, f tariff.Features, d tariff.Derived) []domain.RiskFactor {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	// Stable rule order keeps reports deterministic for identical input.
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})

	activation := map[string]any{
		"tarif_rs":                    f.TariffHospital,
		"tarif_inacbg":                f.TariffInaCbg,
		"tariff_ratio":                d.TariffRatio,
		"tariff_diff_percentage":      d.TariffDiffPercentage,
		"tariff_per_day":              d.TariffPerDay,
		"procedure_intensity":         d.ProcedureIntensity,
		"los_days":                    int64(f.LengthOfStayDays),
		"expected_los":                int64(d.ExpectedLOS),
		"num_procedures":              int64(f.NumProcedures),
		"care_class":                  f.CareClass,
		"diagnosis_severity":          f.DiagnosisSeverity,
		"provider_claims_count":       int64(f.ProviderClaimsCount),
		"provider_fraud_history_rate": f.ProviderFraudHistoryRate,
		"hospital_fraud_history_rate": f.HospitalFraudHistoryRate,
	}

	fired := make([]*domain.AnomalyRuleConfig, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := r.Program.Eval(activation)
			if err != nil {
				e.logger.Warn("anomaly rule evaluation failed, treating as not fired",
					"rule", r.Config.ID,
					"tenant_id", tenantID,
					"error", err)
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				fired[idx] = r.Config
			}
		}(i, rule)
	}

	wg.Wait()

	var factors []domain.RiskFactor
	for _, cfg := range fired {
		if cfg == nil {
			continue
		}
		severity := cfg.Severity
		if severity == "" {
			severity = domain.FactorSeverityMedium
		}
		detail := cfg.Detail
		if detail == "" {
			detail = cfg.Description
		}
		factors = append(factors, domain.RiskFactor{
			Factor:       cfg.Name,
			Severity:     severity,
			Detail:       detail,
			Contribution: cfg.Weight,
		})
	}
	return factors
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.AnomalyRuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
