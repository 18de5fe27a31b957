package odm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Repository is a typed view of one mapped class.
type Repository[T any] struct {
	manager *Manager
	meta    *ClassMetadata
}

// NewRepository binds a repository for T to m.
func NewRepository[T any](m *Manager) (*Repository[T], error) {
	meta, err := m.MetadataFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	if meta.MappedSuperclass {
		return nil, &ClassNotMappedError{Class: meta.Name}
	}
	return &Repository[T]{manager: m, meta: meta}, nil
}

// Metadata returns the metadata of T.
func (r *Repository[T]) Metadata() *ClassMetadata {
	return r.meta
}

// CreateQuery returns an empty query on T.
func (r *Repository[T]) CreateQuery() *Query {
	return newQuery(r.meta, r.manager.types, r.manager.transport)
}

// Save persists objects in one batch.
func (r *Repository[T]) Save(ctx context.Context, objects ...*T) error {
	batch := make([]any, len(objects))
	for i, o := range objects {
		batch[i] = o
	}
	return r.manager.Persist(ctx, batch...)
}

// Find returns the most recent sample whose identifier equals id.
func (r *Repository[T]) Find(ctx context.Context, id any) (*T, error) {
	if r.meta.Identifier == nil {
		return nil, &MissingIdentifierError{Class: r.meta.Name}
	}
	return r.FindOneBy(ctx, map[string]any{r.meta.Identifier.Name: id})
}

// FindAll returns every sample of T.
func (r *Repository[T]) FindAll(ctx context.Context) ([]*T, error) {
	return Objects[T](ctx, r.CreateQuery())
}

// FindBy returns samples matching every criterion by equality, newest
// first. limit <= 0 means no limit.
func (r *Repository[T]) FindBy(ctx context.Context, criteria map[string]any, limit int) ([]*T, error) {
	q := r.CreateQuery()
	for _, name := range sortedKeys(criteria) {
		q.Where(name, OpEqual, criteria[name])
	}
	q.OrderByTimeDesc()
	if limit > 0 {
		q.Limit(limit)
	}
	return Objects[T](ctx, q)
}

// FindOneBy returns the newest sample matching criteria, or ErrNoResult.
func (r *Repository[T]) FindOneBy(ctx context.Context, criteria map[string]any) (*T, error) {
	found, err := r.FindBy(ctx, criteria, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNoResult
	}
	return found[0], nil
}

// Count returns the number of samples of T, counted on its first field.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	fields := r.meta.FieldsOfKind(KindField)
	if len(fields) == 0 {
		return 0, fmt.Errorf("count %s: class has no fields", r.meta.Name)
	}
	q := r.CreateQuery().
		Select("count(" + QuoteIdent(fields[0].Name) + ")").
		ScalarColumn("count")
	v, err := q.GetSingleScalarResult(ctx)
	if errors.Is(err, ErrNoResult) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return asInt64(v)
}
