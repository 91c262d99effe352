package matching

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candidate is the projection of a record the rules look at.
type Candidate struct {
	ID              uuid.UUID
	UploadJobID     *uuid.UUID
	TransactionID   string
	Amount          decimal.Decimal
	ReferenceNumber string
}

// Scope narrows a population query.
type Scope struct {
	// ExcludeID drops one record, normally the candidate itself.
	ExcludeID uuid.UUID
	// JobScoped restricts the query to records sharing UploadJobID. A nil
	// UploadJobID then means manually entered records.
	JobScoped   bool
	UploadJobID *uuid.UUID
}

// Includes reports whether c is visible under the scope.
func (s Scope) Includes(c Candidate) bool {
	if s.ExcludeID != uuid.Nil && c.ID == s.ExcludeID {
		return false
	}
	if !s.JobScoped {
		return true
	}
	if s.UploadJobID == nil || c.UploadJobID == nil {
		return s.UploadJobID == nil && c.UploadJobID == nil
	}
	return *s.UploadJobID == *c.UploadJobID
}

// Population answers the existence questions the rules ask. The record repository
// implements it against the database; Index and SeenSet implement it in memory.
type Population interface {
	HasTransactionID(ctx context.Context, transactionID string, scope Scope) (bool, error)
	HasExact(ctx context.Context, transactionID string, amount decimal.Decimal, scope Scope) (bool, error)
	HasReferenceInRange(ctx context.Context, reference string, low, high decimal.Decimal, scope Scope) (bool, error)
}

// union answers true when any member does.
type union []Population

func (u union) HasTransactionID(ctx context.Context, transactionID string, scope Scope) (bool, error) {
	for _, p := range u {
		ok, err := p.HasTransactionID(ctx, transactionID, scope)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (u union) HasExact(ctx context.Context, transactionID string, amount decimal.Decimal, scope Scope) (bool, error) {
	for _, p := range u {
		ok, err := p.HasExact(ctx, transactionID, amount, scope)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (u union) HasReferenceInRange(ctx context.Context, reference string, low, high decimal.Decimal, scope Scope) (bool, error) {
	for _, p := range u {
		ok, err := p.HasReferenceInRange(ctx, reference, low, high, scope)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
