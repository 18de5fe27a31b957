package odm

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Manager is the entry point of the mapper. It owns the type registry and
// metadata factory and shares them with every persister and query it
// creates.
type Manager struct {
	transport Transport
	types     *TypeRegistry
	factory   *MetadataFactory
	persister *Persister
	logger    logrus.FieldLogger
}

type managerOptions struct {
	source Source
	types  *TypeRegistry
	logger logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithSource sets the metadata source. The default reads struct tags.
func WithSource(s Source) Option {
	return func(o *managerOptions) { o.source = s }
}

// WithTypeRegistry sets the logical type registry. Register custom types
// before the manager is first used.
func WithTypeRegistry(r *TypeRegistry) Option {
	return func(o *managerOptions) { o.types = r }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// NewManager creates a manager on top of transport.
func NewManager(transport Transport, opts ...Option) *Manager {
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.types == nil {
		o.types = NewTypeRegistry()
	}
	if o.source == nil {
		o.source = NewTagSource()
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.InfoLevel)
		o.logger = l
	}

	factory := NewMetadataFactory(o.source, o.types)
	return &Manager{
		transport: transport,
		types:     o.types,
		factory:   factory,
		persister: NewPersister(factory, o.types, transport, transport),
		logger:    o.logger,
	}
}

// Types returns the logical type registry.
func (m *Manager) Types() *TypeRegistry {
	return m.types
}

// Factory returns the metadata factory.
func (m *Manager) Factory() *MetadataFactory {
	return m.factory
}

// Transport returns the underlying transport.
func (m *Manager) Transport() Transport {
	return m.transport
}

// MetadataFor resolves the metadata of model, which may be a value, a
// pointer, or a reflect.Type.
func (m *Manager) MetadataFor(model any) (*ClassMetadata, error) {
	return m.factory.MetadataForValue(model)
}

// Persist writes objects in one batch.
func (m *Manager) Persist(ctx context.Context, objects ...any) error {
	if err := m.persister.Persist(ctx, objects...); err != nil {
		m.logger.WithError(err).WithField("objects", len(objects)).Debug("persist failed")
		return err
	}
	m.logger.WithField("objects", len(objects)).Debug("persisted")
	return nil
}

// Remove deletes the series identified by obj's identifier.
func (m *Manager) Remove(ctx context.Context, obj any) error {
	if err := m.persister.Remove(ctx, obj); err != nil {
		m.logger.WithError(err).WithField("class", classOf(obj)).Debug("remove failed")
		return err
	}
	m.logger.WithField("class", classOf(obj)).Debug("removed")
	return nil
}

// CreateQuery returns a query bound to the class of model. Mapped
// superclasses cannot be queried.
func (m *Manager) CreateQuery(model any) (*Query, error) {
	meta, err := m.factory.MetadataForValue(model)
	if err != nil {
		return nil, err
	}
	if meta.MappedSuperclass {
		return nil, &ClassNotMappedError{Class: meta.Name}
	}
	return newQuery(meta, m.types, m.transport), nil
}

// Detach does nothing. The manager keeps no identity map.
func (m *Manager) Detach(any) {}

// Refresh does nothing. Objects are never reloaded in place.
func (m *Manager) Refresh(context.Context, any) error { return nil }

// Clear does nothing. There is no unit of work to discard.
func (m *Manager) Clear() {}

// Merge returns obj unchanged.
func (m *Manager) Merge(obj any) any { return obj }

// Close closes the transport.
func (m *Manager) Close() error {
	return m.transport.Close()
}
