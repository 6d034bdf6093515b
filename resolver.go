package realm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"sync"

	"github.com/GoCodeAlone/realm/decl"
)

// ResolvedComponent is the output of a Resolver. Decl must already be
// normalized (decl.Decode does this) and is shared read-only from then on.
type ResolvedComponent struct {
	ResolvedURL string
	Decl        *decl.ComponentDecl
	// Package gives runners access to the component's files, if any.
	Package fs.FS
}

// Resolver turns a component URL into a declaration.
type Resolver interface {
	Resolve(ctx context.Context, componentURL string) (*ResolvedComponent, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, componentURL string) (*ResolvedComponent, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, componentURL string) (*ResolvedComponent, error) {
	return f(ctx, componentURL)
}

// ResolverRegistry dispatches resolution by URL scheme.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewResolverRegistry returns an empty registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[string]Resolver)}
}

// Register installs r for scheme.
func (r *ResolverRegistry) Register(scheme string, resolver Resolver) error {
	if resolver == nil {
		return fmt.Errorf("%w: %s", ErrNilResolver, scheme)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resolvers[scheme]; exists {
		return fmt.Errorf("%w: %s", ErrSchemeAlreadyRegistered, scheme)
	}
	r.resolvers[scheme] = resolver
	return nil
}

// Schemes lists the registered schemes in sorted order.
func (r *ResolverRegistry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.resolvers))
	for s := range r.resolvers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Resolve resolves componentURL with the resolver registered for its
// scheme. Every error is a *ResolverError.
func (r *ResolverRegistry) Resolve(ctx context.Context, componentURL string) (*ResolvedComponent, error) {
	u, err := url.Parse(componentURL)
	if err != nil {
		return nil, NewResolverError(ResolverFailed, componentURL, err)
	}
	r.mu.RLock()
	resolver, ok := r.resolvers[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, NewResolverError(SchemeNotRegistered, componentURL, fmt.Errorf("scheme %q", u.Scheme))
	}

	resolved, err := resolver.Resolve(ctx, componentURL)
	if err != nil {
		var rerr *ResolverError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, NewResolverError(ResolverFailed, componentURL, err)
	}
	if resolved == nil || resolved.Decl == nil {
		return nil, NewResolverError(ManifestInvalid, componentURL, errors.New("resolver returned no declaration"))
	}
	d := resolved.Decl.Clone()
	d.Normalize()
	if err := decl.Validate(d); err != nil {
		return nil, NewResolverError(ManifestInvalid, componentURL, err)
	}
	c := *resolved
	c.Decl = d
	if c.ResolvedURL == "" {
		c.ResolvedURL = componentURL
	}
	return &c, nil
}
