package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// DefaultTolerance is the partial-match band as a fraction of the amount.
var DefaultTolerance = decimal.RequireFromString("0.02")

type DuplicateRule struct {
	Enabled bool
	Scope   enums.DuplicateScope
}

type ExactRule struct {
	Enabled bool
}

type PartialRule struct {
	Enabled bool
	// TolerancePercent is a fraction: 0.02 means ±2%.
	TolerancePercent decimal.Decimal
}

// RuleSet configures which checks run. Evaluation order is fixed: duplicate, exact,
// partial, then unmatched.
type RuleSet struct {
	Duplicate DuplicateRule
	Exact     ExactRule
	Partial   PartialRule
}

func DefaultRuleSet() RuleSet {
	return RuleSet{
		Duplicate: DuplicateRule{Enabled: true, Scope: enums.DuplicateScopeJob},
		Exact:     ExactRule{Enabled: true},
		Partial:   PartialRule{Enabled: true, TolerancePercent: DefaultTolerance},
	}
}

// RuleSetFromConfig builds the rule set from LEDGERMATCH_MATCH_* settings.
func RuleSetFromConfig(cfg config.MatchConfig) (RuleSet, error) {
	scope, err := enums.ParseDuplicateScope(cfg.DuplicateScope)
	if err != nil {
		return RuleSet{}, err
	}
	tol := DefaultTolerance
	if raw := strings.TrimSpace(cfg.PartialTolerance); raw != "" {
		tol, err = decimal.NewFromString(raw)
		if err != nil {
			return RuleSet{}, fmt.Errorf("invalid partial tolerance %q: %w", cfg.PartialTolerance, err)
		}
	}
	rs := RuleSet{
		Duplicate: DuplicateRule{Enabled: cfg.DuplicateEnabled, Scope: scope},
		Exact:     ExactRule{Enabled: cfg.ExactEnabled},
		Partial:   PartialRule{Enabled: cfg.PartialEnabled, TolerancePercent: tol},
	}
	return rs, rs.Validate()
}

func (rs RuleSet) Validate() error {
	if rs.Duplicate.Enabled && !rs.Duplicate.Scope.IsValid() {
		return fmt.Errorf("invalid duplicate scope %q", rs.Duplicate.Scope)
	}
	if rs.Partial.Enabled && rs.Partial.TolerancePercent.IsNegative() {
		return fmt.Errorf("partial tolerance must be non-negative")
	}
	return nil
}

// rule is one step of the classification chain.
type rule interface {
	status() enums.ReconciliationStatus
	matches(ctx context.Context, pop Population, c Candidate, exclude Scope) (bool, error)
}

type duplicateRule struct{ scope enums.DuplicateScope }

func (duplicateRule) status() enums.ReconciliationStatus {
	return enums.ReconciliationStatusDuplicate
}

func (r duplicateRule) matches(ctx context.Context, pop Population, c Candidate, scope Scope) (bool, error) {
	if r.scope == enums.DuplicateScopeJob {
		scope.JobScoped = true
		scope.UploadJobID = c.UploadJobID
	}
	return pop.HasTransactionID(ctx, c.TransactionID, scope)
}

type exactRule struct{}

func (exactRule) status() enums.ReconciliationStatus {
	return enums.ReconciliationStatusMatched
}

func (exactRule) matches(ctx context.Context, pop Population, c Candidate, scope Scope) (bool, error) {
	return pop.HasExact(ctx, c.TransactionID, c.Amount, scope)
}

type partialRule struct{ tolerance decimal.Decimal }

func (partialRule) status() enums.ReconciliationStatus {
	return enums.ReconciliationStatusPartial
}

func (r partialRule) matches(ctx context.Context, pop Population, c Candidate, scope Scope) (bool, error) {
	if c.ReferenceNumber == "" {
		return false, nil
	}
	low, high := Band(c.Amount, r.tolerance)
	return pop.HasReferenceInRange(ctx, c.ReferenceNumber, low, high, scope)
}

// Band returns the inclusive range amount ± |amount| × tolerance.
func Band(amount, tolerance decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	delta := amount.Abs().Mul(tolerance)
	return amount.Sub(delta), amount.Add(delta)
}

func (rs RuleSet) chain() []rule {
	var out []rule
	if rs.Duplicate.Enabled {
		out = append(out, duplicateRule{scope: rs.Duplicate.Scope})
	}
	if rs.Exact.Enabled {
		out = append(out, exactRule{})
	}
	if rs.Partial.Enabled {
		out = append(out, partialRule{tolerance: rs.Partial.TolerancePercent})
	}
	return out
}
