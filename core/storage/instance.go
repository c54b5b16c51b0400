package storage

import (
	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core/schema"
)

// Instance is a persisted record of an entity. Instances are owned by the store
// which returned them; callers must not share them across requests.
type Instance struct {
	Entity *schema.Entity
	ID     uuid.UUID
	// Values holds canonical values for all fields except id, see schema.Field.Coerce
	Values map[string]interface{}
	// Related holds prefetched relations keyed by accessor. A forward relation holds at
	// most one instance.
	Related map[string][]*Instance
}

// Get returns the value of a field, including the id field
func (i *Instance) Get(name string) interface{} {
	if name == schema.IDField.Name {
		return i.ID
	}
	return i.Values[name]
}

// RelatedOne returns the prefetched target of a forward relation. The second return
// value is false if the relation was not prefetched.
func (i *Instance) RelatedOne(accessor string) (*Instance, bool) {
	related, ok := i.Related[accessor]
	if !ok {
		return nil, false
	}
	if len(related) == 0 {
		return nil, true
	}
	return related[0], true
}

// RelatedMany returns the prefetched instances of a reverse relation
func (i *Instance) RelatedMany(accessor string) ([]*Instance, bool) {
	related, ok := i.Related[accessor]
	return related, ok
}

// SetRelated stores prefetched instances for an accessor
func (i *Instance) SetRelated(accessor string, related []*Instance) {
	if i.Related == nil {
		i.Related = map[string][]*Instance{}
	}
	if related == nil {
		related = []*Instance{}
	}
	i.Related[accessor] = related
}

// ClearPrefetched drops all prefetched relations. Use it after the instance has been
// modified, since prefetched data reflects the state before the modification.
func (i *Instance) ClearPrefetched() {
	i.Related = nil
}
