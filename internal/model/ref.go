package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Kind string

const (
	KindAccount    Kind = "account"
	KindRepository Kind = "repository"
)

// Ref identifies an entity across queue messages: "<kind>:<id>".
type Ref struct {
	Kind Kind
	ID   uint
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("invalid object string %q", s)
	}
	if Kind(kind) != KindAccount && Kind(kind) != KindRepository {
		return Ref{}, fmt.Errorf("invalid object kind %q", kind)
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return Ref{}, fmt.Errorf("invalid object id %q", id)
	}
	return Ref{Kind: Kind(kind), ID: uint(n)}, nil
}

// RefSet is the traversal-scoped visited set ("to ignore") preventing cycles
// and duplicate work within one fetch-full call tree.
type RefSet struct {
	refs map[string]struct{}
}

func NewRefSet(refs ...string) *RefSet {
	s := &RefSet{refs: make(map[string]struct{}, len(refs))}
	for _, r := range refs {
		s.refs[r] = struct{}{}
	}
	return s
}

func (s *RefSet) Add(r Ref) {
	s.refs[r.String()] = struct{}{}
}

func (s *RefSet) Has(r Ref) bool {
	_, ok := s.refs[r.String()]
	return ok
}

func (s *RefSet) Len() int {
	return len(s.refs)
}

// List returns the members in a stable order, ready for serialization.
func (s *RefSet) List() []string {
	out := make([]string, 0, len(s.refs))
	for r := range s.refs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
