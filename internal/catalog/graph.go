package catalog

import (
	"fmt"
	"slices"
	"strings"
)

const (
	EdgeCategory   = "category"
	EdgeSupersedes = "supersedes"

	DefaultMaxEdges = 1000
)

// GraphOptions selects what BuildGraph includes.
type GraphOptions struct {
	// IncludeEdgeTypes defaults to both category and supersedes edges.
	IncludeEdgeTypes []string
	MaxEdges         int
	// Categories restricts nodes to entries with any of these categories.
	Categories []string
}

type GraphNode struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Category    string      `json:"category"`
	Priority    int         `json:"priority"`
	Requirement Requirement `json:"requirement"`
}

type GraphEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Directed bool   `json:"directed"`
}

// Graph is the relationship graph of a snapshot.
type Graph struct {
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	Truncated bool        `json:"truncated"`
	Hash      string      `json:"hash"`
}

// BuildGraph links entries that share a category (one undirected edge per
// pair, labelled with the first shared category) and entries that supersede
// another. Output order is deterministic.
func BuildGraph(snap *Snapshot, opts GraphOptions) (*Graph, error) {
	types := opts.IncludeEdgeTypes
	if len(types) == 0 {
		types = []string{EdgeCategory, EdgeSupersedes}
	}
	for _, t := range types {
		if t != EdgeCategory && t != EdgeSupersedes {
			return nil, fmt.Errorf("unknown edge type %q", t)
		}
	}
	maxEdges := opts.MaxEdges
	if maxEdges <= 0 {
		maxEdges = DefaultMaxEdges
	}

	filter := Filter{Categories: opts.Categories}
	g := &Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}, Hash: snap.Hash}
	included := map[string]*Instruction{}
	for _, in := range snap.Entries {
		if !filter.Match(in) {
			continue
		}
		included[in.ID] = in
		g.Nodes = append(g.Nodes, GraphNode{
			ID:          in.ID,
			Title:       in.Title,
			Category:    in.PrimaryCategory(),
			Priority:    in.Priority,
			Requirement: in.Requirement,
		})
	}

	// edges are produced in (type, from, to) order so generation can stop
	// at the limit
	ids := make([]string, 0, len(included))
	for id := range included {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var edges []GraphEdge
	add := func(e GraphEdge) bool {
		if len(edges) == maxEdges {
			g.Truncated = true
			return false
		}
		edges = append(edges, e)
		return true
	}

	if slices.Contains(types, EdgeCategory) {
		cats := make(map[string][]string, len(ids))
		for _, id := range ids {
			cs := slices.Clone(included[id].Categories)
			slices.Sort(cs)
			cats[id] = cs
		}
	pairs:
		for i, from := range ids {
			for _, to := range ids[i+1:] {
				label, ok := sharedCategory(cats[from], cats[to])
				if !ok {
					continue
				}
				if !add(GraphEdge{From: from, To: to, Type: EdgeCategory, Label: label}) {
					break pairs
				}
			}
		}
	}
	if slices.Contains(types, EdgeSupersedes) && !g.Truncated {
		for _, id := range ids {
			in := included[id]
			if in.Supersedes == "" || included[in.Supersedes] == nil {
				continue
			}
			if !add(GraphEdge{From: id, To: in.Supersedes, Type: EdgeSupersedes, Directed: true}) {
				break
			}
		}
	}
	if edges != nil {
		g.Edges = edges
	}
	return g, nil
}

// sharedCategory returns the first entry of sorted a that is also in b.
func sharedCategory(a, b []string) (string, bool) {
	for _, c := range a {
		if slices.Contains(b, c) {
			return c, true
		}
	}
	return "", false
}

// DOT renders g in Graphviz syntax.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("graph instructions {\n")
	b.WriteString("  node [shape=box];\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %q [label=%q];\n", n.ID, n.Title+"\n"+n.Category)
	}
	for _, e := range g.Edges {
		if e.Directed {
			fmt.Fprintf(&b, "  %q -- %q [dir=forward, style=bold, label=%q];\n", e.From, e.To, e.Type)
		} else {
			fmt.Fprintf(&b, "  %q -- %q [label=%q];\n", e.From, e.To, e.Label)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid renders g as a left-to-right flowchart.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph LR\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s[\"%s\"]\n", mermaidID(n.ID), mermaidText(n.Title))
	}
	for _, e := range g.Edges {
		if e.Directed {
			fmt.Fprintf(&b, "  %s -->|%s| %s\n", mermaidID(e.From), e.Type, mermaidID(e.To))
		} else {
			fmt.Fprintf(&b, "  %s ---|%s| %s\n", mermaidID(e.From), mermaidText(e.Label), mermaidID(e.To))
		}
	}
	return b.String()
}

func mermaidID(id string) string {
	return "n_" + strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
}

func mermaidText(s string) string {
	return strings.NewReplacer(`"`, "'", "|", "/", "\n", " ").Replace(s)
}
