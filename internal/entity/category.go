package entity

// TaxonomyEntry is one (category, subcategory) pair of the product reference.
type TaxonomyEntry struct {
	Category    string `json:"category" yaml:"category"`
	Subcategory string `json:"subcategory" yaml:"subcategory"`
}

func (e TaxonomyEntry) String() string {
	return e.Category + " / " + e.Subcategory
}
