package expand

import (
	"context"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// ChildLoader loads the children of a tree node. depth is the depth of the children,
// starting with 1 for the children of a root. A loader returns nil to stop descending.
type ChildLoader func(ctx context.Context, parent *storage.Instance, depth int) ([]*storage.Instance, error)

// Serialize renders an instance with a shape. Relations which were not prefetched
// are rendered as ids. Write-only fields are never rendered. children may be nil if
// the shape has no tree.
func Serialize(ctx context.Context, inst *storage.Instance, shape *Shape, children ChildLoader) (map[string]interface{}, error) {
	return serialize(ctx, inst, shape, children, 0)
}

func serialize(ctx context.Context, inst *storage.Instance, shape *Shape, children ChildLoader, depth int) (map[string]interface{}, error) {
	out := map[string]interface{}{schema.IDField.Name: inst.ID.String()}
	for _, f := range inst.Entity.Fields {
		if f.WriteOnly {
			continue
		}
		out[f.Name] = f.Render(inst.Values[f.Name])
	}
	if shape == nil {
		return out, nil
	}

	for _, n := range shape.Nested {
		if n.Edge.Kind == schema.EdgeForward {
			related, ok := inst.RelatedOne(n.Edge.Accessor)
			if !ok {
				continue
			}
			if related == nil {
				out[n.Edge.Accessor] = nil
				continue
			}
			nested, err := serialize(ctx, related, n.Shape, nil, 0)
			if err != nil {
				return nil, err
			}
			out[n.Edge.Accessor] = nested
			continue
		}
		related, ok := inst.RelatedMany(n.Edge.Accessor)
		if !ok {
			continue
		}
		list := make([]interface{}, 0, len(related))
		for _, r := range related {
			nested, err := serialize(ctx, r, n.Shape, nil, 0)
			if err != nil {
				return nil, err
			}
			list = append(list, nested)
		}
		out[n.Edge.Accessor] = list
	}

	if shape.Tree != nil && children != nil {
		kids, err := children(ctx, inst, depth+1)
		if err != nil {
			return nil, err
		}
		list := make([]interface{}, 0, len(kids))
		for _, kid := range kids {
			nested, err := serialize(ctx, kid, shape, children, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, nested)
		}
		out[shape.Tree.RelatedAccessor] = list
	}
	return out, nil
}
