// Package taxonomy holds the immutable category/subcategory reference used to
// steer extraction and to classify validated records.
package taxonomy

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type pairKey struct {
	category    string
	subcategory string
}

// Index is a read-only lookup over taxonomy entries. It is safe for
// concurrent use once built.
type Index struct {
	entries      []entity.TaxonomyEntry
	pairs        map[pairKey]int
	bySub        map[string]int
	categories   []string
	unclassified entity.TaxonomyEntry
}

// New builds an Index. Entries keep their order; a repeated pair (compared
// case-insensitively) or an empty name is an error.
func New(entries []entity.TaxonomyEntry) (*Index, error) {
	if len(entries) == 0 {
		return nil, common.NewAppError("TAXONOMY_ERROR", "taxonomy is empty", common.ErrInvalidInput)
	}
	ix := &Index{
		entries: make([]entity.TaxonomyEntry, 0, len(entries)),
		pairs:   make(map[pairKey]int, len(entries)),
		bySub:   make(map[string]int, len(entries)),
		unclassified: entity.TaxonomyEntry{
			Category:    constants.UnclassifiedCategory,
			Subcategory: constants.UnclassifiedSubcategory,
		},
	}
	seenCat := map[string]struct{}{}
	for i, e := range entries {
		e.Category = collapse(e.Category)
		e.Subcategory = collapse(e.Subcategory)
		if e.Category == "" || e.Subcategory == "" {
			return nil, common.NewAppError("TAXONOMY_ERROR",
				fmt.Sprintf("entry %d has an empty category or subcategory", i+1), common.ErrInvalidInput)
		}
		if constants.IsUnclassified(e.Category, e.Subcategory) {
			// The fallback pair is implicit.
			continue
		}
		k := pairKey{fold(e.Category), fold(e.Subcategory)}
		if _, dup := ix.pairs[k]; dup {
			return nil, common.NewAppError("TAXONOMY_ERROR",
				fmt.Sprintf("duplicate taxonomy pair %q", e.String()), common.ErrInvalidInput)
		}
		pos := len(ix.entries)
		ix.entries = append(ix.entries, e)
		ix.pairs[k] = pos
		// First category wins when a subcategory name repeats across categories.
		if _, ok := ix.bySub[k.subcategory]; !ok {
			ix.bySub[k.subcategory] = pos
		}
		if _, ok := seenCat[k.category]; !ok {
			seenCat[k.category] = struct{}{}
			ix.categories = append(ix.categories, e.Category)
		}
	}
	if len(ix.entries) == 0 {
		return nil, common.NewAppError("TAXONOMY_ERROR", "taxonomy has no pairs besides the fallback", common.ErrInvalidInput)
	}
	return ix, nil
}

// Resolve classifies a (category, subcategory) pair: exact match first, then
// a subcategory-only match under any category, else the Unclassified pair.
// It always returns a usable entry.
func (ix *Index) Resolve(category, subcategory string) (entity.TaxonomyEntry, entity.MatchKind) {
	c, s := fold(category), fold(subcategory)
	if pos, ok := ix.pairs[pairKey{c, s}]; ok {
		return ix.entries[pos], entity.MatchExact
	}
	if s != "" {
		if pos, ok := ix.bySub[s]; ok {
			return ix.entries[pos], entity.MatchSubcategory
		}
	}
	return ix.unclassified, entity.MatchUnclassified
}

// Entries returns a copy of the entries in load order.
func (ix *Index) Entries() []entity.TaxonomyEntry {
	out := make([]entity.TaxonomyEntry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// Categories returns the distinct category names in load order.
func (ix *Index) Categories() []string {
	out := make([]string, len(ix.categories))
	copy(out, ix.categories)
	return out
}

// Unclassified returns the reserved fallback pair.
func (ix *Index) Unclassified() entity.TaxonomyEntry { return ix.unclassified }

func (ix *Index) Len() int { return len(ix.entries) }

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fold normalizes a name for comparison. A Caser is stateful, so one is made
// per call.
func fold(s string) string {
	return cases.Fold().String(collapse(s))
}
