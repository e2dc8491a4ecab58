package llm

import (
	"strings"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
)

type PromptOptions struct {
	TranslateTo     string
	DefaultCurrency string
}

const systemPrompt = "You are an OCR and data extraction assistant. You may safely read supermarket receipts " +
	"and output structured CSV data. Never refuse unless images contain personal or illegal data."

// BuildPrompt composes the instruction sent with every submission. The
// taxonomy reference table is embedded so the model picks known pairs.
func BuildPrompt(idx *taxonomy.Index, opts PromptOptions) Prompt {
	lang := strings.TrimSpace(opts.TranslateTo)
	if lang == "" {
		lang = "English"
	}
	cur := strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency))
	if cur == "" {
		cur = "EUR"
	}
	header := strings.Join(constants.CSVHeader, ",")

	var b strings.Builder
	b.WriteString("You are analyzing one or more photos of supermarket receipts. ")
	b.WriteString("The photos are given in order; a long receipt may continue from one photo to the next, so list its items in that order.\n\n")

	b.WriteString("TASK:\n")
	b.WriteString("1. Extract every product line: product name, quantity if shown, unit price, and the purchase date.\n")
	b.WriteString("2. Pick a category and subcategory for each product from the reference table below.\n")
	b.WriteString("3. Translate each product name into " + lang + ".\n\n")

	b.WriteString("OUTPUT FORMAT:\n")
	b.WriteString("Return ONLY a CSV table that starts with this exact header:\n")
	b.WriteString(header + "\n\n")

	b.WriteString("Rules:\n")
	rules := []string{
		"One line per product. Enclose all text fields in double quotes.",
		"price is the price of ONE unit; use '.' as the decimal separator.",
		"quantity is a whole number of units; use 1 when the receipt does not show it.",
		"currency is a 3-letter ISO 4217 code; use " + cur + " when the receipt does not show it.",
		"receipt_date is YYYY-MM-DD and repeats for every product of the same receipt; leave it blank if unreadable.",
		"category and subcategory are in English and copied exactly from the reference table; use " +
			constants.UnclassifiedCategory + "," + constants.UnclassifiedSubcategory + " if nothing fits.",
		"After the table add one line: " + constants.TotalLineKey + ",<total amount printed on the receipt>.",
		"Do not add explanations.",
	}
	for _, r := range rules {
		b.WriteString("- " + r + "\n")
	}

	b.WriteString("\nExample:\n")
	b.WriteString(header + "\n")
	b.WriteString(`"VODA GAZIRANA KNJAZ MILOS 0,33L","Sparkling water Knjaz Milos 0.33L","Beverages","Soft Drinks & Juices",93.98,RSD,1,2025-10-31` + "\n")
	b.WriteString(constants.TotalLineKey + ",93.98\n")

	b.WriteString("\nCategories reference:\ncategory,subcategory\n")
	if idx != nil {
		for _, e := range idx.Entries() {
			b.WriteString(quote(e.Category) + "," + quote(e.Subcategory) + "\n")
		}
	}

	return Prompt{System: systemPrompt, User: b.String()}
}

func quote(s string) string {
	if strings.ContainsAny(s, ",\"") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
