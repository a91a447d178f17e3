package repository

import (
	"encoding/json"
	"slices"
)

// ChangeSet lists the repository-relative paths (slash separated) that a
// sync created, updated or deleted. It is immutable once built; accessors
// return copies. Order follows discovery and carries no meaning.
//
// A nil *ChangeSet means "nothing was pulled". Callers tell that apart from
// an empty change set through the sync status, never through the content.
type ChangeSet struct {
	created []string
	updated []string
	deleted []string
}

// NewChangeSet builds a change set from the given lists, dropping
// duplicates within each list while keeping first-seen order.
func NewChangeSet(created, updated, deleted []string) *ChangeSet {
	return &ChangeSet{
		created: dedupe(created),
		updated: dedupe(updated),
		deleted: dedupe(deleted),
	}
}

func (cs *ChangeSet) CreatedPaths() []string { return cs.copyOf(func(c *ChangeSet) []string { return c.created }) }
func (cs *ChangeSet) UpdatedPaths() []string { return cs.copyOf(func(c *ChangeSet) []string { return c.updated }) }
func (cs *ChangeSet) DeletedPaths() []string { return cs.copyOf(func(c *ChangeSet) []string { return c.deleted }) }

func (cs *ChangeSet) copyOf(field func(*ChangeSet) []string) []string {
	if cs == nil {
		return []string{}
	}
	return slices.Clone(field(cs))
}

// Len returns the total number of paths across all three lists.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.created) + len(cs.updated) + len(cs.deleted)
}

// IsEmpty reports whether the change set lists no paths. It is true for nil.
func (cs *ChangeSet) IsEmpty() bool {
	return cs.Len() == 0
}

type changeSetView struct {
	Created []string `json:"createdFiles" yaml:"createdFiles"`
	Updated []string `json:"updatedFiles" yaml:"updatedFiles"`
	Deleted []string `json:"deletedFiles" yaml:"deletedFiles"`
}

func (cs *ChangeSet) view() changeSetView {
	return changeSetView{
		Created: cs.CreatedPaths(),
		Updated: cs.UpdatedPaths(),
		Deleted: cs.DeletedPaths(),
	}
}

func (cs *ChangeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(cs.view())
}

func (cs *ChangeSet) MarshalYAML() (interface{}, error) {
	return cs.view(), nil
}

func dedupe(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// changeSetBuilder accumulates paths during a diff or enumeration.
type changeSetBuilder struct {
	created, updated, deleted []string
}

func (b *changeSetBuilder) create(path string) { b.created = append(b.created, path) }
func (b *changeSetBuilder) update(path string) { b.updated = append(b.updated, path) }
func (b *changeSetBuilder) remove(path string) { b.deleted = append(b.deleted, path) }

func (b *changeSetBuilder) build() *ChangeSet {
	return NewChangeSet(b.created, b.updated, b.deleted)
}
