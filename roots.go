// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

// A Root is a client-side workspace advertised to the server: a URI and an
// optional human-readable name.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// rootSet maintains the ordered, URI-deduplicated collection of roots
// advertised by a client session. Insertion order is preserved so that
// roots/list returns entries in the order they were first declared.
type rootSet struct {
	order []string
	byURI map[string]*Root
}

func newRootSet() *rootSet {
	return &rootSet{byURI: make(map[string]*Root)}
}

// set inserts or updates the root named by uri. Per the de-duplication
// invariant, a new name only replaces an existing entry's name if there was
// no prior entry for that URI; updating an already-known URI with a
// different name is a no-op for the name field, matching "latest name wins
// on conflict only if no prior entry exists".
func (s *rootSet) set(uri, name string) {
	if _, ok := s.byURI[uri]; ok {
		return
	}
	s.byURI[uri] = &Root{URI: uri, Name: name}
	s.order = append(s.order, uri)
}

// replace discards the current root set and installs roots in order,
// applying the same de-duplication rule as set. This is the shape used
// when a client sends a full roots/list result.
func (s *rootSet) replace(roots []Root) {
	s.order = nil
	s.byURI = make(map[string]*Root, len(roots))
	for _, r := range roots {
		s.set(r.URI, r.Name)
	}
}

// list returns the roots in insertion order.
func (s *rootSet) list() []Root {
	out := make([]Root, 0, len(s.order))
	for _, uri := range s.order {
		out = append(out, *s.byURI[uri])
	}
	return out
}
