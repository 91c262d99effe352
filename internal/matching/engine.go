package matching

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// ClassifyOptions tunes one classification.
type ClassifyOptions struct {
	// ExcludeID removes a record (usually the candidate itself) from the population.
	ExcludeID uuid.UUID
	// Seen is the in-flight batch; may be nil.
	Seen *SeenSet
}

// Engine classifies candidates. It performs no writes.
type Engine struct {
	rules RuleSet
	chain []rule
}

func NewEngine(rules RuleSet) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Engine{rules: rules, chain: rules.chain()}, nil
}

// Rules returns the active rule set.
func (e *Engine) Rules() RuleSet {
	return e.rules
}

// Classify evaluates the rule chain against pop (plus opts.Seen) and returns the first
// status whose rule matches, or UNMATCHED.
func (e *Engine) Classify(ctx context.Context, pop Population, c Candidate, opts ClassifyOptions) (enums.ReconciliationStatus, error) {
	if strings.TrimSpace(c.TransactionID) == "" {
		return "", errors.New("candidate transaction id is required")
	}

	members := make(union, 0, 2)
	if pop != nil {
		members = append(members, pop)
	}
	if opts.Seen != nil && opts.Seen.Len() > 0 {
		members = append(members, opts.Seen)
	}
	if len(members) == 0 {
		return enums.ReconciliationStatusUnmatched, nil
	}

	scope := Scope{ExcludeID: opts.ExcludeID}
	for _, r := range e.chain {
		ok, err := r.matches(ctx, members, c, scope)
		if err != nil {
			return "", err
		}
		if ok {
			return r.status(), nil
		}
	}
	return enums.ReconciliationStatusUnmatched, nil
}

// ClassifyAll classifies every candidate of a snapshot against the rest of it.
func (e *Engine) ClassifyAll(ctx context.Context, snapshot []Candidate) (map[uuid.UUID]enums.ReconciliationStatus, error) {
	idx := NewIndex(snapshot...)
	out := make(map[uuid.UUID]enums.ReconciliationStatus, len(snapshot))
	for _, c := range snapshot {
		status, err := e.Classify(ctx, idx, c, ClassifyOptions{ExcludeID: c.ID})
		if err != nil {
			return nil, err
		}
		out[c.ID] = status
	}
	return out, nil
}
