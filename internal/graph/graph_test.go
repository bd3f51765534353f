package graph

import "testing"

func TestInsertLocalNode_AssignsIncreasingIds(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	a := g.InsertLocalNode(1.0, "a", 0)
	b := g.InsertLocalNode(1.0, "b", 0)

	if a.Id == b.Id {
		t.Fatal("expected distinct ids")
	}
	if a.State != Local || b.State != Local {
		t.Error("InsertLocalNode should produce LOCAL nodes")
	}
	if g.NodeCount() != 2 {
		t.Errorf("NodeCount() = %d, want 2", g.NodeCount())
	}
}

func TestGetNode_Found(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[int](0)
	n := g.InsertLocalNode(0, 42, 0)

	got, ok := g.GetNode(n.Id)
	if !ok || got != n {
		t.Fatalf("GetNode(%v) = %v, %v; want %v, true", n.Id, got, ok, n)
	}

	if _, ok := g.GetNode(n.Id); !ok {
		t.Error("expected node to be found")
	}
}

func TestLink_EdgeStateDerivedFromEndpoints(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	a := g.InsertLocalNode(0, "a", 0)
	b := g.InsertLocalNode(0, "b", 0)
	e := g.Link(a, b, 1, 2.5)

	if e.State != Local {
		t.Errorf("edge between two LOCAL nodes should be LOCAL, got %v", e.State)
	}

	distant := newNode(g.minter.Next(), 0, "remote", 1)
	distant.State = Distant
	g.InsertNode(distant)
	e2 := g.Link(a, distant, 1, 1.0)
	if e2.State != Distant {
		t.Errorf("edge with a DISTANT endpoint should be DISTANT, got %v", e2.State)
	}
}

func TestLink_UpdatesAdjacencyInInsertionOrder(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	a := g.InsertLocalNode(0, "a", 0)
	b := g.InsertLocalNode(0, "b", 0)
	c := g.InsertLocalNode(0, "c", 0)

	e1 := g.Link(a, b, 0, 1.0)
	e2 := g.Link(a, c, 0, 1.0)

	out := a.OutEdges(0)
	if len(out) != 2 || out[0].Id != e1.Id || out[1].Id != e2.Id {
		t.Errorf("OutEdges() = %v, want [%v, %v] in order", out, e1.Id, e2.Id)
	}

	in := b.InEdges(0)
	if len(in) != 1 || in[0].Id != e1.Id {
		t.Errorf("InEdges() = %v, want [%v]", in, e1.Id)
	}
}

func TestEraseNode_CascadesIncidentEdges(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	a := g.InsertLocalNode(0, "a", 0)
	b := g.InsertLocalNode(0, "b", 0)
	c := g.InsertLocalNode(0, "c", 0)
	e1 := g.Link(a, b, 0, 1.0)
	e2 := g.Link(c, a, 0, 1.0)

	g.EraseNode(a)

	if _, ok := g.GetNode(a.Id); ok {
		t.Error("erased node should no longer be found")
	}
	if _, ok := g.GetEdge(e1.Id); ok {
		t.Error("edge incident to erased node should be cascaded away")
	}
	if _, ok := g.GetEdge(e2.Id); ok {
		t.Error("edge incident to erased node should be cascaded away")
	}
	if len(b.InEdges(0)) != 0 {
		t.Error("b should no longer see the erased edge in its adjacency")
	}
}

func TestClear_ErasesEdgesThenNodes(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	a := g.InsertLocalNode(0, "a", 0)
	b := g.InsertLocalNode(0, "b", 0)
	g.Link(a, b, 0, 1.0)

	var eraseOrder []string
	g.OnEraseEdge(func(e *Edge[string]) { eraseOrder = append(eraseOrder, "edge") })
	g.OnEraseNode(func(n *Node[string]) { eraseOrder = append(eraseOrder, "node") })

	g.Clear()

	if g.NodeCount() != 0 || g.EdgeCount() != 0 {
		t.Fatalf("Clear() left NodeCount=%d EdgeCount=%d, want 0, 0", g.NodeCount(), g.EdgeCount())
	}
	if len(eraseOrder) != 3 {
		t.Fatalf("expected 3 erase callbacks (1 edge, 2 nodes), got %v", eraseOrder)
	}
	if eraseOrder[0] != "edge" {
		t.Errorf("expected edge erase before node erase, got order %v", eraseOrder)
	}
}

func TestCallbacks_FireOnInsertAndErase(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	var insertedNodes, erasedNodes, insertedEdges, erasedEdges int
	g.OnInsertNode(func(*Node[string]) { insertedNodes++ })
	g.OnEraseNode(func(*Node[string]) { erasedNodes++ })
	g.OnInsertEdge(func(*Edge[string]) { insertedEdges++ })
	g.OnEraseEdge(func(*Edge[string]) { erasedEdges++ })

	a := g.InsertLocalNode(0, "a", 0)
	b := g.InsertLocalNode(0, "b", 0)
	e := g.Link(a, b, 0, 1.0)
	g.EraseEdge(e)
	g.EraseNode(a)

	if insertedNodes != 2 {
		t.Errorf("insertedNodes = %d, want 2", insertedNodes)
	}
	if insertedEdges != 1 {
		t.Errorf("insertedEdges = %d, want 1", insertedEdges)
	}
	if erasedEdges != 1 {
		t.Errorf("erasedEdges = %d, want 1", erasedEdges)
	}
	if erasedNodes != 1 {
		t.Errorf("erasedNodes = %d, want 1", erasedNodes)
	}
}

func TestNode_Layers(t *testing.T) {
	t.Parallel()

	g := NewBaseGraph[string](0)
	a := g.InsertLocalNode(0, "a", 0)
	b := g.InsertLocalNode(0, "b", 0)
	g.Link(a, b, 0, 1.0)
	g.Link(a, b, 3, 1.0)

	layers := a.Layers()
	if len(layers) != 2 {
		t.Fatalf("Layers() = %v, want 2 distinct layers", layers)
	}
}
