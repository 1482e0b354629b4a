package models

import (
	"time"

	"github.com/joescharf/bd/internal/bderr"
)

// LinkType is a relationship kind between two issues. Users may spell a
// relationship in either direction; storage holds only canonical types with
// inverse spellings rewritten on ingest.
type LinkType string

const (
	// Blocking types. After normalization only LinkBlocks remains in storage.
	LinkBlocks     LinkType = "blocks"
	LinkBlockedBy  LinkType = "blocked_by"
	LinkDependsOn  LinkType = "depends_on"
	LinkRequiredBy LinkType = "required_by"

	// Informational types.
	LinkRelatesTo    LinkType = "relates_to"
	LinkDuplicates   LinkType = "duplicates"
	LinkDuplicatedBy LinkType = "duplicated_by"
	LinkParentOf     LinkType = "parent_of"
	LinkChildOf      LinkType = "child_of"
	LinkClones       LinkType = "clones"
	LinkClonedBy     LinkType = "cloned_by"
	LinkCausedBy     LinkType = "caused_by"
	LinkCauses       LinkType = "causes"
	LinkFixes        LinkType = "fixes"
	LinkFixedBy      LinkType = "fixed_by"
	LinkDiscovers    LinkType = "discovers"
	LinkDiscoveredBy LinkType = "discovered_by"
	LinkSupersedes   LinkType = "supersedes"
)

// canonicalForm maps every spelling to its stored form. swap means the
// endpoints flip on ingest.
var canonicalForm = map[LinkType]struct {
	typ  LinkType
	swap bool
}{
	LinkBlocks:     {LinkBlocks, false},
	LinkBlockedBy:  {LinkBlocks, true},
	LinkDependsOn:  {LinkBlocks, true},
	LinkRequiredBy: {LinkBlocks, false},

	LinkRelatesTo:    {LinkRelatesTo, false},
	LinkDuplicates:   {LinkDuplicates, false},
	LinkDuplicatedBy: {LinkDuplicates, true},
	LinkParentOf:     {LinkParentOf, false},
	LinkChildOf:      {LinkParentOf, true},
	LinkClones:       {LinkClones, false},
	LinkClonedBy:     {LinkClones, true},
	LinkCauses:       {LinkCauses, false},
	LinkCausedBy:     {LinkCauses, true},
	LinkFixes:        {LinkFixes, false},
	LinkFixedBy:      {LinkFixes, true},
	LinkDiscovers:    {LinkDiscovers, false},
	LinkDiscoveredBy: {LinkDiscovers, true},
	LinkSupersedes:   {LinkSupersedes, false},
}

// inverseSpelling maps canonical types to the spelling shown for an
// incoming edge, where the vocabulary has one.
var inverseSpelling = map[LinkType]LinkType{
	LinkBlocks:     LinkBlockedBy,
	LinkDuplicates: LinkDuplicatedBy,
	LinkParentOf:   LinkChildOf,
	LinkClones:     LinkClonedBy,
	LinkCauses:     LinkCausedBy,
	LinkFixes:      LinkFixedBy,
	LinkDiscovers:  LinkDiscoveredBy,
}

// IsValid checks if the link type is one of the known spellings.
func (t LinkType) IsValid() bool {
	_, ok := canonicalForm[t]
	return ok
}

// IsCanonical reports whether the type is a stored form rather than an
// inverse spelling.
func (t LinkType) IsCanonical() bool {
	c, ok := canonicalForm[t]
	return ok && c.typ == t && !c.swap
}

// IsBlocking reports whether the type participates in readiness.
func (t LinkType) IsBlocking() bool {
	switch t {
	case LinkBlocks, LinkBlockedBy, LinkDependsOn, LinkRequiredBy:
		return true
	}
	return false
}

// Inverse returns the spelling used to render the edge from the target's
// perspective, and whether one exists.
func (t LinkType) Inverse() (LinkType, bool) {
	inv, ok := inverseSpelling[t]
	return inv, ok
}

// Link is a directed, typed relationship between two issues, always held in
// canonical form.
type Link struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      LinkType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeLink rewrites a user-spelled relationship into canonical storage
// form. Symmetric relates_to edges are additionally ordered by id so one
// pair can never be stored in both directions.
func NormalizeLink(from, to string, typ LinkType) (Link, error) {
	if from == to {
		return Link{}, bderr.New(bderr.CodeSelfLink, "issue cannot link to itself: %s", from)
	}
	c, ok := canonicalForm[typ]
	if !ok {
		return Link{}, bderr.New(bderr.CodeUnknownLinkType, "unknown link type: %s", typ)
	}
	f, t := from, to
	if c.swap {
		f, t = to, from
	}
	if c.typ == LinkRelatesTo && t < f {
		f, t = t, f
	}
	return Link{From: f, To: t, Type: c.typ}, nil
}
