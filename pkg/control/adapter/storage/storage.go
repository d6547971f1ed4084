// Package storage defines the object storage contract used for audit and historian archives.
// Backends (local file system, GCS) register a Provider; the Resolver picks the provider for a
// named connection from the controller's storage configuration.
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Executor defines the object operations.
type Executor interface {
	// Upload writes data to bucket/objectName. contentType is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. A missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// Connection is an open storage connection.
type Connection interface {
	Executor
	Name() string
	Type() string
	// Bucket is the configured default bucket, used when callers pass an empty bucket.
	Bucket() string
	Close() error
}

// Provider opens connections of one storage type.
type Provider interface {
	Type() string
	Connect(ctx context.Context, name string, cfg config.StorageConfig) (Connection, error)
}

// Resolver resolves named connections from configuration and caches them.
type Resolver struct {
	configs   map[string]config.StorageConfig
	providers map[string]Provider

	mu          sync.Mutex
	connections map[string]Connection
}

// NewResolver creates a resolver over the named storage configurations.
func NewResolver(configs map[string]config.StorageConfig, providers ...Provider) *Resolver {
	r := &Resolver{
		configs:     configs,
		providers:   make(map[string]Provider, len(providers)),
		connections: make(map[string]Connection),
	}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// Resolve returns the connection for name, opening it on first use.
func (r *Resolver) Resolve(ctx context.Context, name string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	p, ok := r.providers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", cfg.Type, name)
	}
	conn, err := p.Connect(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage connection '%s': %w", name, err)
	}
	r.connections[name] = conn
	logger.Debugf("Opened %s storage connection '%s'.", cfg.Type, name)
	return conn, nil
}

// CloseAll closes every open connection.
func (r *Resolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs *multierror.Error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(r.connections, name)
	}
	return errs.ErrorOrNil()
}
