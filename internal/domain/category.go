package domain

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
)

// FoldCategory returns the comparison key for a category label.
func FoldCategory(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// SplitCategoryList splits a comma-separated category list, trimming
// whitespace and dropping empty entries.
func SplitCategoryList(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CategorySet is a set of category labels compared case-insensitively.
// Iteration follows insertion order and the first spelling added is kept.
// The zero value is an empty set ready to use.
type CategorySet struct {
	names []string
	index map[string]int
}

// NewCategorySet builds a set from the given labels.
func NewCategorySet(names ...string) CategorySet {
	var s CategorySet
	s.AddAll(names...)
	return s
}

// Add inserts a label. Empty labels are ignored. It reports whether the
// set changed.
func (s *CategorySet) Add(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	key := FoldCategory(name)
	if _, ok := s.index[key]; ok {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	s.index[key] = len(s.names)
	s.names = append(s.names, name)
	return true
}

// AddAll inserts every label.
func (s *CategorySet) AddAll(names ...string) {
	for _, n := range names {
		s.Add(n)
	}
}

// Contains reports whether the label is in the set, ignoring case.
func (s CategorySet) Contains(name string) bool {
	_, ok := s.index[FoldCategory(name)]
	return ok
}

// Len returns the number of distinct labels.
func (s CategorySet) Len() int { return len(s.names) }

// IsEmpty reports whether the set has no labels.
func (s CategorySet) IsEmpty() bool { return len(s.names) == 0 }

// Names returns the labels in insertion order.
func (s CategorySet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Union returns a new set holding the labels of s followed by those of
// others.
func (s CategorySet) Union(others ...CategorySet) CategorySet {
	out := NewCategorySet(s.names...)
	for _, o := range others {
		out.AddAll(o.names...)
	}
	return out
}

// Intersect returns the labels of s that are also in other, spelled as in s.
func (s CategorySet) Intersect(other CategorySet) CategorySet {
	var out CategorySet
	for _, n := range s.names {
		if other.Contains(n) {
			out.Add(n)
		}
	}
	return out
}

// String renders the set as a comma-separated list.
func (s CategorySet) String() string {
	return strings.Join(s.names, ", ")
}

// MarshalJSON encodes the set as an array of labels.
func (s CategorySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes an array of labels.
func (s *CategorySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewCategorySet(names...)
	return nil
}
