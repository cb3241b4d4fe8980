package callgraph

import (
	"context"
	"fmt"

	"github.com/dexhelper/pkg/collections"
	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/filter"
)

// Direction selects which edges a walk follows.
type Direction string

const (
	DirectionCallers Direction = "callers"
	DirectionCallees Direction = "callees"
	DirectionBoth    Direction = "both"
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionCallers, DirectionCallees, DirectionBoth:
		return d, nil
	case "":
		return DirectionBoth, nil
	}
	return "", fmt.Errorf("unknown direction: %q", s)
}

// Finder is the part of a dexhelper.Helper the generator walks.
type Finder interface {
	FindMethodInvoking(ctx context.Context, method dexhelper.MethodHandle, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	FindMethodInvoked(ctx context.Context, method dexhelper.MethodHandle, q *dexhelper.Query) ([]dexhelper.MethodHandle, error)
	DecodeMethod(m dexhelper.MethodHandle) (dexhelper.MethodRef, error)
}

// GeneratorOptions holds configuration for call graph generation.
type GeneratorOptions struct {
	Direction Direction
	// MaxDepth bounds the walk; the root is depth 0.
	MaxDepth int
	// MaxNodes stops the walk once reached and marks the graph truncated.
	MaxNodes int
	// ExpandFramework follows edges out of runtime and framework methods.
	// Off by default: callers of android.app.Activity.onCreate are every
	// activity in the app.
	ExpandFramework bool
	// Filter classifies nodes; nil uses filter.DefaultFilter.
	Filter *filter.ClassFilter
}

// DefaultGeneratorOptions returns default generator options.
func DefaultGeneratorOptions() *GeneratorOptions {
	return &GeneratorOptions{
		Direction: DirectionBoth,
		MaxDepth:  2,
		MaxNodes:  500,
	}
}

// Generator generates call graphs from a Finder.
type Generator struct {
	finder Finder
	opts   *GeneratorOptions
	filter *filter.ClassFilter
}

// NewGenerator creates a new call graph generator.
func NewGenerator(finder Finder, opts *GeneratorOptions) *Generator {
	if opts == nil {
		opts = DefaultGeneratorOptions()
	}
	if opts.Direction == "" {
		opts.Direction = DirectionBoth
	}
	f := opts.Filter
	if f == nil {
		f = filter.DefaultFilter
	}
	return &Generator{finder: finder, opts: opts, filter: f}
}

type visit struct {
	handle dexhelper.MethodHandle
	node   *Node
	index  int
}

// Generate walks breadth first from root.
func (g *Generator) Generate(ctx context.Context, root dexhelper.MethodHandle) (*CallGraph, error) {
	cg := NewCallGraph()
	cg.Direction = g.opts.Direction
	cg.MaxDepth = g.opts.MaxDepth

	rootNode, err := g.node(root, 0)
	if err != nil {
		return nil, err
	}
	cg.Root = rootNode.ID
	cg.AddNode(rootNode)

	queue := collections.NewQueue[visit](64)
	expanded := collections.NewBitset(64)
	queue.Enqueue(visit{handle: root, node: rootNode, index: 0})

	for !queue.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, _ := queue.Dequeue()
		if expanded.Test(cur.index) || cur.node.Depth >= g.opts.MaxDepth {
			continue
		}
		if cur.index != 0 && !g.expandable(cur.node) {
			continue
		}
		expanded.Set(cur.index)

		if g.opts.Direction != DirectionCallees {
			callers, err := g.finder.FindMethodInvoking(ctx, cur.handle, nil)
			if err != nil {
				return nil, err
			}
			if !g.link(cg, queue, cur, callers, true) {
				break
			}
		}
		// only defined methods have code to scan
		if g.opts.Direction != DirectionCallers && cur.node.Defined {
			callees, err := g.finder.FindMethodInvoked(ctx, cur.handle, nil)
			if err != nil {
				return nil, err
			}
			if !g.link(cg, queue, cur, callees, false) {
				break
			}
		}
	}
	return cg, nil
}

// link adds neighbours of cur and reports false once MaxNodes is hit.
func (g *Generator) link(cg *CallGraph, queue *collections.Queue[visit], cur visit, hs []dexhelper.MethodHandle, callers bool) bool {
	for _, h := range hs {
		n, err := g.node(h, cur.node.Depth+1)
		if err != nil {
			continue
		}
		stored, added := cg.AddNode(n)
		if added {
			if g.opts.MaxNodes > 0 && len(cg.Nodes) > g.opts.MaxNodes {
				cg.Nodes = cg.Nodes[:len(cg.Nodes)-1]
				delete(cg.nodeMap, n.ID)
				cg.Truncated = true
				return false
			}
			queue.Enqueue(visit{handle: h, node: stored, index: len(cg.Nodes) - 1})
		}
		if callers {
			cg.AddEdge(stored.ID, cur.node.ID)
		} else {
			cg.AddEdge(cur.node.ID, stored.ID)
		}
	}
	return true
}

// expandable keeps the walk inside code shipped with the app.
func (g *Generator) expandable(n *Node) bool {
	return g.opts.ExpandFramework || g.filter.IsApplicationLevel(n.Class)
}

func (g *Generator) node(h dexhelper.MethodHandle, depth int) (*Node, error) {
	ref, err := g.finder.DecodeMethod(h)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:       ref.String(),
		Handle:   uint64(h),
		Class:    ref.Class,
		Name:     ref.Name,
		Category: g.filter.Classify(ref.Class).String(),
		Depth:    depth,
		Defined:  h.Defined(),
	}, nil
}
