package matching

import (
	"context"

	"github.com/shopspring/decimal"
)

// Index is an in-memory population keyed by transaction id and reference number.
// It keeps insertion order so callers can replay it.
type Index struct {
	items []Candidate
	byTxn map[string][]int
	byRef map[string][]int
}

func NewIndex(candidates ...Candidate) *Index {
	idx := &Index{
		byTxn: make(map[string][]int),
		byRef: make(map[string][]int),
	}
	for _, c := range candidates {
		idx.Add(c)
	}
	return idx
}

// Add appends c.
func (i *Index) Add(c Candidate) {
	pos := len(i.items)
	i.items = append(i.items, c)
	i.byTxn[c.TransactionID] = append(i.byTxn[c.TransactionID], pos)
	if c.ReferenceNumber != "" {
		i.byRef[c.ReferenceNumber] = append(i.byRef[c.ReferenceNumber], pos)
	}
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.items)
}

// Items returns the candidates in insertion order.
func (i *Index) Items() []Candidate {
	out := make([]Candidate, len(i.items))
	copy(out, i.items)
	return out
}

func (i *Index) HasTransactionID(_ context.Context, transactionID string, scope Scope) (bool, error) {
	return i.any(i.byTxn[transactionID], scope, func(Candidate) bool { return true }), nil
}

func (i *Index) HasExact(_ context.Context, transactionID string, amount decimal.Decimal, scope Scope) (bool, error) {
	return i.any(i.byTxn[transactionID], scope, func(c Candidate) bool {
		return c.Amount.Equal(amount)
	}), nil
}

func (i *Index) HasReferenceInRange(_ context.Context, reference string, low, high decimal.Decimal, scope Scope) (bool, error) {
	if reference == "" {
		return false, nil
	}
	return i.any(i.byRef[reference], scope, func(c Candidate) bool {
		return c.Amount.GreaterThanOrEqual(low) && c.Amount.LessThanOrEqual(high)
	}), nil
}

func (i *Index) any(positions []int, scope Scope, pred func(Candidate) bool) bool {
	for _, pos := range positions {
		c := i.items[pos]
		if scope.Includes(c) && pred(c) {
			return true
		}
	}
	return false
}

// SeenSet holds the rows of one ingestion run that were already classified, in file
// order. It lives only for that run.
type SeenSet struct {
	Index
}

func NewSeenSet() *SeenSet {
	return &SeenSet{Index: *NewIndex()}
}
