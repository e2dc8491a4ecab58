package constants

import "strings"

// Reserved pair assigned when a product cannot be matched against the taxonomy.
const (
	UnclassifiedCategory    = "Unclassified"
	UnclassifiedSubcategory = "Unclassified"
)

// IsUnclassified reports whether the pair is the reserved fallback.
func IsUnclassified(category, subcategory string) bool {
	return strings.EqualFold(strings.TrimSpace(category), UnclassifiedCategory) &&
		strings.EqualFold(strings.TrimSpace(subcategory), UnclassifiedSubcategory)
}

// CSVHeader is the column order the extraction prompt asks for.
var CSVHeader = []string{
	"original_product_name",
	"translated_product_name",
	"category",
	"subcategory",
	"price",
	"currency",
	"quantity",
	"receipt_date",
}

// TotalLineKey prefixes the optional trailing total line of a model response.
const TotalLineKey = "receipt_total"
