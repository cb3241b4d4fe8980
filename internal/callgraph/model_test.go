package callgraph

import "testing"

func TestCallGraph_AddNodeAndEdge(t *testing.T) {
	cg := NewCallGraph()

	a, added := cg.AddNode(&Node{ID: "La;->a()V", Category: "application"})
	if !added {
		t.Fatal("first AddNode should add")
	}
	again, added := cg.AddNode(&Node{ID: "La;->a()V", Depth: 3})
	if added || again != a {
		t.Error("AddNode should return the stored node for a known ID")
	}
	cg.AddNode(&Node{ID: "Lb;->b()V", Category: "runtime"})

	e1 := cg.AddEdge("La;->a()V", "Lb;->b()V")
	e2 := cg.AddEdge("La;->a()V", "Lb;->b()V")
	if e1 != e2 || len(cg.Edges) != 1 {
		t.Error("AddEdge should deduplicate")
	}
	if cg.GetNode("Lb;->b()V") == nil || cg.GetEdge("La;->a()V", "Lb;->b()V") == nil {
		t.Error("lookups failed")
	}
}

func TestCallGraph_Prune(t *testing.T) {
	cg := NewCallGraph()
	cg.Root = "Landroid/app/Activity;->onCreate(Landroid/os/Bundle;)V"
	cg.AddNode(&Node{ID: cg.Root, Category: "framework"})
	cg.AddNode(&Node{ID: "La;->a()V", Category: "application"})
	cg.AddNode(&Node{ID: "Ljava/lang/Object;-><init>()V", Category: "runtime"})
	cg.AddEdge("La;->a()V", cg.Root)
	cg.AddEdge("La;->a()V", "Ljava/lang/Object;-><init>()V")

	cg.Prune("framework", "runtime")

	if len(cg.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2 (root is kept)", len(cg.Nodes))
	}
	if len(cg.Edges) != 1 || cg.GetEdge("La;->a()V", cg.Root) == nil {
		t.Errorf("unexpected edges: %+v", cg.Edges)
	}
	if cg.GetNode("Ljava/lang/Object;-><init>()V") != nil {
		t.Error("pruned node still indexed")
	}

	stats := cg.GetStats()
	if stats.NodeCount != 2 || stats.EdgeCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
