package realm

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
)

// LookUp returns the live instance at m. Zero instance ids in m match the
// current instance of that name.
func (m *Model) LookUp(mon moniker.Moniker) (*ComponentInstance, error) {
	cur := m.root
	for _, seg := range mon.Path() {
		child, ok := cur.Child(seg)
		if !ok {
			return nil, &ModelError{Op: "look up", Moniker: mon, Err: ErrInstanceNotFound}
		}
		cur = child
	}
	if cur.State() == StateDestroyed {
		return nil, &ModelError{Op: "look up", Moniker: mon, Err: ErrInstanceNotFound}
	}
	return cur, nil
}

// GetOrCreateChild returns the live child of parent declared by child in
// collection (empty for a static child), creating it in Discovered if it
// does not exist. The parent must be resolved and not being destroyed.
func (m *Model) GetOrCreateChild(ctx context.Context, parent moniker.Moniker, child decl.ChildDecl, collection string) (*ComponentInstance, error) {
	p, err := m.LookUp(parent)
	if err != nil {
		return nil, err
	}
	inst, created, err := m.addChild(p, child, collection, false)
	if err != nil {
		return nil, err
	}
	if created {
		m.dispatchLogged(ctx, hooks.NewEvent(inst.moniker, hooks.DiscoveredPayload{URL: inst.url}))
	}
	return inst, nil
}

// CreateChild adds a dynamic child to a collection declared by parent.
// Children of single_run collections are started immediately and destroyed
// once they stop.
func (m *Model) CreateChild(ctx context.Context, parent moniker.Moniker, collection string, child decl.ChildDecl) (*ComponentInstance, error) {
	p, err := m.LookUp(parent)
	if err != nil {
		return nil, err
	}
	if collection == "" {
		return nil, modelError("create child", parent, fmt.Errorf("%w: collection name is empty", ErrCollectionNotFound))
	}

	inst, _, err := m.addChild(p, child, collection, true)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Dynamic child created", "moniker", inst.moniker.String(), "url", inst.url)
	m.dispatchLogged(ctx, hooks.NewEvent(inst.moniker, hooks.DiscoveredPayload{URL: inst.url}))

	if inst.durability == decl.DurabilitySingleRun {
		if err := m.Start(ctx, inst.moniker); err != nil {
			return inst, err
		}
	}
	return inst, nil
}

// DestroyChild destroys the dynamic child name of parent.
func (m *Model) DestroyChild(ctx context.Context, parent moniker.Moniker, name moniker.ChildName) error {
	p, err := m.LookUp(parent)
	if err != nil {
		return err
	}
	if name.Collection != "" {
		if d := p.Decl(); d == nil {
			return modelError("destroy child", parent, ErrInstanceNotFound)
		} else if _, ok := d.FindCollection(name.Collection); !ok {
			return modelError("destroy child", parent, fmt.Errorf("%w: %s", ErrCollectionNotFound, name.Collection))
		}
	}
	child, ok := p.Child(name)
	if !ok {
		return modelError("destroy child", parent.Child(name), ErrInstanceNotFound)
	}
	return m.Destroy(ctx, child.moniker)
}

// addChild creates the child under p.mu. The name must be a valid moniker
// name and a non-empty collection must be declared by p. With exclusive set
// an existing child is an error instead of being returned.
func (m *Model) addChild(p *ComponentInstance, child decl.ChildDecl, collection string, exclusive bool) (*ComponentInstance, bool, error) {
	op := "get or create child"
	if exclusive {
		op = "create child"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.resolved() || p.destroying.Load() {
		return nil, false, modelError(op, p.moniker, ErrInstanceNotFound)
	}
	if err := moniker.ValidateName(child.Name); err != nil {
		return nil, false, modelError(op, p.moniker, err)
	}

	var durability decl.Durability
	if collection != "" {
		coll, ok := p.decl.FindCollection(collection)
		if !ok {
			return nil, false, modelError(op, p.moniker, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection))
		}
		durability = coll.Durability
	}

	key := moniker.ChildName{Name: child.Name, Collection: collection}
	if existing, ok := p.children[key]; ok {
		if exclusive {
			return nil, false, modelError(op, existing.moniker, ErrInstanceAlreadyExists)
		}
		return existing, false, nil
	}

	p.nextID[key]++
	mon := p.moniker.Child(key.WithInstanceID(p.nextID[key]))
	inst := newInstance(mon, child.URL, child.Startup, durability)
	p.children[key] = inst
	return inst, true, nil
}

// removeChild drops inst from its parent's child map if it is still there.
func (m *Model) removeChild(inst *ComponentInstance) {
	parentMoniker, ok := inst.moniker.Parent()
	if !ok {
		return
	}
	parent, err := m.LookUp(parentMoniker)
	if err != nil {
		return
	}
	leaf, _ := inst.moniker.Leaf()
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if cur, ok := parent.children[leaf.Key()]; ok && cur == inst {
		delete(parent.children, leaf.Key())
	}
}
