package routing

import (
	"fmt"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/moniker"
)

// SegmentKind tags one hop of a route.
type SegmentKind int

const (
	UseBy SegmentKind = iota + 1
	OfferBy
	ExposeBy
	DeclareBy
	FromFramework
	FromRootParent
)

func (k SegmentKind) String() string {
	switch k {
	case UseBy:
		return "use by"
	case OfferBy:
		return "offer by"
	case ExposeBy:
		return "expose by"
	case DeclareBy:
		return "declare by"
	case FromFramework:
		return "framework of"
	case FromRootParent:
		return "root parent of"
	}
	return "unknown"
}

// Terminal reports whether k ends a route.
func (k SegmentKind) Terminal() bool {
	return k == DeclareBy || k == FromFramework || k == FromRootParent
}

// Segment is one hop of a route: the component at Moniker handled the
// capability under Name. Rights is set when the hop declared directory rights.
type Segment struct {
	Kind    SegmentKind
	Moniker moniker.Moniker
	Name    string
	Rights  *decl.Rights
}

func (s Segment) String() string {
	return fmt.Sprintf("%s %s (%s)", s.Kind, s.Moniker, s.Name)
}

// Route is the result of routing a use to its source. Segments run from the
// first offer (or the terminal hop for framework uses) to the source.
type Route struct {
	Target   moniker.Moniker
	Use      decl.UseDecl
	Segments []Segment
	// Rights is the effective directory rights granted, nil when no hop
	// constrained them or the capability is not a directory.
	Rights *decl.Rights
	Subdir string
}

// Source returns the terminal segment of the route.
func (r *Route) Source() Segment {
	return r.Segments[len(r.Segments)-1]
}

// Explain returns the full chain, starting with the use itself.
func (r *Route) Explain() []Segment {
	chain := make([]Segment, 0, len(r.Segments)+1)
	chain = append(chain, Segment{Kind: UseBy, Moniker: r.Target, Name: r.Use.SourceName, Rights: r.Use.Rights})
	return append(chain, r.Segments...)
}

// Hops renders Explain as strings.
func (r *Route) Hops() []string {
	chain := r.Explain()
	out := make([]string, len(chain))
	for i, s := range chain {
		out[i] = s.String()
	}
	return out
}
