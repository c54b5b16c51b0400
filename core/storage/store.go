/*
Package storage defines the contract between the request pipeline and a storage engine.

A Store evaluates queries built from predicate trees, orders and prefetch paths,
and provides transactions. Two engines are provided: memstore for tests and
small deployments, pgstore for postgres.
*/
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/schema"
)

// Storage errors. Engines wrap them with details.
var (
	// ErrNoInstance is returned when an instance addressed by id does not exist
	ErrNoInstance = errors.New("no such instance")
	// ErrUniqueViolation is returned when a unique field would be duplicated
	ErrUniqueViolation = errors.New("unique constraint violated")
	// ErrReferenceViolation is returned when a relation points to a missing instance
	ErrReferenceViolation = errors.New("relation references a missing instance")
	// ErrInvalidValue is returned when the engine rejects the representation of a value
	ErrInvalidValue = errors.New("invalid value")
)

// Classify maps errors of a write to the instance with the given title onto the error
// codes of the api. Errors which are already classified are passed through.
func Classify(title string, err error) error {
	switch {
	case errors.Is(err, ErrUniqueViolation):
		return core.Errorf(core.CodeValidation, err, "%s violates a unique constraint", title)
	case errors.Is(err, ErrReferenceViolation):
		return core.Errorf(core.CodeRelationResolution, err, "%s references a missing instance", title)
	case errors.Is(err, ErrInvalidValue):
		return core.Errorf(core.CodeInvalidRequest, err, "invalid value for %s", title)
	case errors.Is(err, ErrNoInstance):
		return core.Errorf(core.CodeNotFound, err, "%s not found", title)
	}
	var cerr *core.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return core.Errorf(core.CodeInternal, err, "cannot write %s", title)
}

// Reader evaluates queries
type Reader interface {
	Find(ctx context.Context, q Query) ([]*Instance, error)
	Count(ctx context.Context, q Query) (int, error)
}

// Writer modifies instances. Values are canonical, see schema.Field.Coerce. Update
// only touches the given fields.
type Writer interface {
	Insert(ctx context.Context, e *schema.Entity, values map[string]interface{}) (uuid.UUID, error)
	Update(ctx context.Context, e *schema.Entity, id uuid.UUID, values map[string]interface{}) error
	Delete(ctx context.Context, e *schema.Entity, id uuid.UUID) error
}

// Tx is a transaction. Reads within the transaction observe its own writes.
type Tx interface {
	Reader
	Writer
	Commit() error
	Rollback() error
}

// Store is a storage engine
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
}

// WithTx runs fn within a transaction. The transaction is committed if fn returns
// nil and rolled back otherwise, also if fn panics. A context cancelled before
// commit rolls the transaction back.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		tx.Rollback()
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}
	committed = true
	return nil
}

// First returns the first instance of the query, or ErrNoInstance
func First(ctx context.Context, r Reader, q Query) (*Instance, error) {
	instances, err := r.Find(ctx, q.Page(1, 0))
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNoInstance
	}
	return instances[0], nil
}
