package validate

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	idx, err := taxonomy.New([]entity.TaxonomyEntry{
		{Category: "Dairy & Eggs", Subcategory: "Milk & Cream"},
		{Category: "Dairy & Eggs", Subcategory: "Eggs"},
		{Category: "Bakery", Subcategory: "Bread"},
		{Category: "Beverages", Subcategory: "Soft Drinks & Juices"},
	})
	require.NoError(t, err)
	v, err := New(idx, Options{
		DefaultCurrency: "eur",
		ToleranceAbs:    decimal.RequireFromString("0.05"),
		TolerancePct:    decimal.RequireFromString("1"),
	}, nil)
	require.NoError(t, err)
	return v
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func day(s string) *time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return &d
}

func kinds(ws []entity.RowWarning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}

func TestMilkExpandsToTwoItems(t *testing.T) {
	v := newValidator(t)
	subID := uuid.New()

	out := v.Validate(Input{
		SubmissionID: subID,
		Submitter:    "u1",
		Candidates: []entity.CandidateRecord{{
			Row: 2, OriginalName: "Milk 1L", TranslatedName: "Молоко 1л",
			Category: "Dairy & Eggs", Subcategory: "Milk & Cream",
			Price: dec("1.29"), PriceRaw: "1.29", Currency: "EUR",
			Quantity: dec("2"), QuantityRaw: "2", Date: day("2024-11-20"),
		}},
	})

	require.Len(t, out.Items, 2)
	for i, it := range out.Items {
		assert.Equal(t, i+1, it.Seq)
		assert.Equal(t, subID, it.SubmissionID)
		assert.Equal(t, "1.29", it.UnitPrice.StringFixed(2))
		assert.Equal(t, "EUR", it.Currency)
		assert.Equal(t, 1, it.Quantity)
		assert.Equal(t, "Dairy & Eggs", it.Category)
		assert.Equal(t, "Milk & Cream", it.Subcategory)
		assert.Equal(t, "2024-11-20", it.ReceiptDate.Format("2006-01-02"))
	}
	assert.Empty(t, out.Warnings)
	assert.Equal(t, "2.58", out.Reconciliation.Computed)
	assert.Nil(t, out.Reconciliation.Extracted)
}

func TestExpansionLaw(t *testing.T) {
	v := newValidator(t)
	for q := 1; q <= 7; q++ {
		t.Run(fmt.Sprintf("q=%d", q), func(t *testing.T) {
			price := decimal.RequireFromString("0.35")
			out := v.Validate(Input{Candidates: []entity.CandidateRecord{{
				Row: 1, OriginalName: "Roll", Category: "Bakery", Subcategory: "Bread",
				Price: &price, Quantity: dec(fmt.Sprint(q)), Date: day("2024-01-01"),
			}}})

			require.Len(t, out.Items, q)
			sum := decimal.Zero
			for _, it := range out.Items {
				assert.Equal(t, 1, it.Quantity)
				assert.True(t, it.UnitPrice.Equal(price))
				sum = sum.Add(it.UnitPrice)
			}
			assert.True(t, sum.Equal(price.Mul(decimal.NewFromInt(int64(q)))))
		})
	}
}

func TestUnparseablePriceExcludesOnlyThatRow(t *testing.T) {
	v := newValidator(t)
	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 2, OriginalName: "Bread", Category: "Bakery", Subcategory: "Bread", PriceRaw: "abc", Date: day("2024-11-20")},
		{Row: 3, OriginalName: "Eggs", Category: "Dairy & Eggs", Subcategory: "Eggs", Price: dec("3.10"), Date: day("2024-11-20")},
		{Row: 4, OriginalName: "Refund", Category: "Bakery", Subcategory: "Bread", Price: dec("-1.00"), Date: day("2024-11-20")},
	}})

	require.Len(t, out.Items, 1)
	assert.Equal(t, "Eggs", out.Items[0].OriginalName)
	assert.Equal(t, 2, out.Excluded)
	assert.Equal(t, []string{constants.WarnMissingPrice, constants.WarnNegativePrice}, kinds(out.Warnings))
	assert.Equal(t, 2, out.Warnings[0].Row)
	assert.False(t, out.Records[0].Valid)
	assert.True(t, out.Records[1].Valid)
}

func TestCategoryResolutionIsTotal(t *testing.T) {
	v := newValidator(t)
	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 1, OriginalName: "Cream", Category: "DAIRY &  eggs", Subcategory: "milk & cream", Price: dec("1")},
		{Row: 2, OriginalName: "Juice", Category: "Drinks", Subcategory: "Soft Drinks & Juices", Price: dec("1")},
		{Row: 3, OriginalName: "Batteries", Category: "Electronics", Subcategory: "Batteries", Price: dec("1")},
		{Row: 4, OriginalName: "Mystery", Price: dec("1")},
	}, FallbackDate: time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)})

	require.Len(t, out.Items, 4)
	assert.Equal(t, entity.MatchExact, out.Records[0].Match)
	assert.Equal(t, "Dairy & Eggs", out.Items[0].Category)
	assert.Equal(t, entity.MatchSubcategory, out.Records[1].Match)
	assert.Equal(t, "Beverages", out.Items[1].Category)
	for _, it := range out.Items[2:] {
		assert.Equal(t, constants.UnclassifiedCategory, it.Category)
		assert.Equal(t, constants.UnclassifiedSubcategory, it.Subcategory)
	}
	for _, it := range out.Items {
		assert.NotEmpty(t, it.Category)
		assert.NotEmpty(t, it.Subcategory)
		assert.Equal(t, "2024-03-05", it.ReceiptDate.Format("2006-01-02"))
	}
	assert.Contains(t, kinds(out.Warnings), constants.WarnSubcategoryMatch)
	assert.Contains(t, kinds(out.Warnings), constants.WarnUnclassified)
}

func TestQuantityNormalization(t *testing.T) {
	tests := []struct {
		name     string
		qty      *decimal.Decimal
		raw      string
		want     int
		wantWarn bool
	}{
		{name: "absent", qty: nil, raw: "", want: 1},
		{name: "unparseable", qty: nil, raw: "some", want: 1, wantWarn: true},
		{name: "zero", qty: dec("0"), raw: "0", want: 1, wantWarn: true},
		{name: "negative", qty: dec("-2"), raw: "-2", want: 1, wantWarn: true},
		{name: "fraction rounds up", qty: dec("2.6"), raw: "2.6", want: 3, wantWarn: true},
		{name: "small fraction keeps one", qty: dec("0.4"), raw: "0.4", want: 1, wantWarn: true},
		{name: "integer", qty: dec("3"), raw: "3", want: 3},
	}
	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Validate(Input{Candidates: []entity.CandidateRecord{{
				Row: 1, OriginalName: "X", Category: "Bakery", Subcategory: "Bread",
				Price: dec("1"), Quantity: tt.qty, QuantityRaw: tt.raw, Date: day("2024-01-01"),
			}}})
			assert.Len(t, out.Items, tt.want)
			assert.Equal(t, tt.wantWarn, len(out.Warnings) > 0)
		})
	}
}

func TestCurrencyFallback(t *testing.T) {
	v := newValidator(t)
	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 1, OriginalName: "A", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Currency: " rsd ", Date: day("2024-01-01")},
		{Row: 2, OriginalName: "B", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Currency: "euro", Date: day("2024-01-01")},
		{Row: 3, OriginalName: "C", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Date: day("2024-01-01")},
	}})

	require.Len(t, out.Items, 3)
	assert.Equal(t, "RSD", out.Items[0].Currency)
	assert.Equal(t, "EUR", out.Items[1].Currency)
	assert.Equal(t, "EUR", out.Items[2].Currency)
	assert.Equal(t, []string{constants.WarnInvalidCurrency}, kinds(out.Warnings))
}

func TestBlankDateTakesSiblingDate(t *testing.T) {
	v := newValidator(t)
	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 1, OriginalName: "A", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Date: day("2024-11-20")},
		{Row: 2, OriginalName: "B", Category: "Bakery", Subcategory: "Bread", Price: dec("1")},
		{Row: 3, OriginalName: "C", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Date: day("2024-11-20")},
		{Row: 4, OriginalName: "D", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Date: day("2024-11-19")},
	}, FallbackDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})

	require.Len(t, out.Items, 4)
	assert.Equal(t, "2024-11-20", out.Items[1].ReceiptDate.Format("2006-01-02"))
	assert.Equal(t, "2024-11-19", out.Items[3].ReceiptDate.Format("2006-01-02"))
	assert.Equal(t, []string{constants.WarnDateFilled}, kinds(out.Warnings))
}

func TestReconciliation(t *testing.T) {
	rows := []entity.CandidateRecord{
		{Row: 1, OriginalName: "Milk", Category: "Dairy & Eggs", Subcategory: "Milk & Cream", Price: dec("1.29"), Quantity: dec("2"), Date: day("2024-11-20")},
		{Row: 2, OriginalName: "Bread", Category: "Bakery", Subcategory: "Bread", Price: dec("2.10"), Date: day("2024-11-20")},
	}
	tests := []struct {
		name     string
		total    *decimal.Decimal
		mismatch bool
	}{
		{name: "exact", total: dec("4.68"), mismatch: false},
		{name: "within absolute tolerance", total: dec("4.72"), mismatch: false},
		{name: "outside tolerance", total: dec("5.00"), mismatch: true},
	}
	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Validate(Input{Candidates: rows, Total: tt.total})
			require.NotNil(t, out.Reconciliation.Extracted)
			assert.Equal(t, "4.68", out.Reconciliation.Computed)
			assert.Equal(t, tt.mismatch, out.Reconciliation.Mismatch)
			assert.Equal(t, tt.mismatch, len(out.Warnings) == 1)
			// the mismatch is a submission warning, never a row warning
			for _, w := range out.Warnings {
				assert.Equal(t, 0, w.Row)
				assert.Equal(t, constants.WarnTotalMismatch, w.Kind)
			}
			assert.Len(t, out.Items, 3)
		})
	}
}

func TestRelativeToleranceOnLargeTotals(t *testing.T) {
	v := newValidator(t)
	out := v.Validate(Input{
		Candidates: []entity.CandidateRecord{
			{Row: 1, OriginalName: "TV", Category: "Bakery", Subcategory: "Bread", Price: dec("1000.00"), Date: day("2024-11-20")},
		},
		Total: dec("1009.00"),
	})
	assert.False(t, out.Reconciliation.Mismatch)
}

func TestItemsPreserveSourceOrder(t *testing.T) {
	v := newValidator(t)
	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 5, OriginalName: "first", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Quantity: dec("2"), Date: day("2024-01-01")},
		{Row: 6, OriginalName: "second", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Date: day("2024-01-01")},
		{Row: 9, OriginalName: "third", Category: "Bakery", Subcategory: "Bread", Price: dec("1"), Quantity: dec("2"), Date: day("2024-01-01")},
	}})
	var got []string
	for _, it := range out.Items {
		got = append(got, fmt.Sprintf("%d:%s", it.Seq, it.OriginalName))
	}
	assert.Equal(t, []string{"1:first", "2:first", "3:second", "4:third", "5:third"}, got)
}

func TestNewRejectsBadOptions(t *testing.T) {
	idx, err := taxonomy.New([]entity.TaxonomyEntry{{Category: "A", Subcategory: "B"}})
	require.NoError(t, err)

	_, err = New(nil, Options{DefaultCurrency: "EUR"}, nil)
	assert.Error(t, err)
	_, err = New(idx, Options{DefaultCurrency: "euro"}, nil)
	assert.Error(t, err)
	_, err = New(idx, Options{DefaultCurrency: "EUR", ToleranceAbs: decimal.NewFromInt(-1)}, nil)
	assert.Error(t, err)
}

func TestQuantityAboveLimitExcludesRow(t *testing.T) {
	idx, err := taxonomy.New([]entity.TaxonomyEntry{{Category: "Bakery", Subcategory: "Bread"}})
	require.NoError(t, err)
	v, err := New(idx, Options{DefaultCurrency: "EUR", MaxQuantity: 50}, nil)
	require.NoError(t, err)

	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 2, OriginalName: "Roll", Category: "Bakery", Subcategory: "Bread", Price: dec("0.40"), Quantity: dec("5000000"), Date: day("2024-11-20")},
		{Row: 3, OriginalName: "Huge", Category: "Bakery", Subcategory: "Bread", Price: dec("0.40"), Quantity: dec("1e30"), Date: day("2024-11-20")},
		{Row: 4, OriginalName: "Bread", Category: "Bakery", Subcategory: "Bread", Price: dec("2.00"), Quantity: dec("50"), Date: day("2024-11-20")},
	}})

	assert.Len(t, out.Items, 50)
	assert.Equal(t, 2, out.Excluded)
	assert.Equal(t, []string{constants.WarnQuantityTooLarge, constants.WarnQuantityTooLarge}, kinds(out.Warnings))
	assert.Equal(t, "100.00", out.Reconciliation.Computed)
}

func TestMaxQuantityDefaults(t *testing.T) {
	idx, err := taxonomy.New([]entity.TaxonomyEntry{{Category: "Bakery", Subcategory: "Bread"}})
	require.NoError(t, err)
	v, err := New(idx, Options{DefaultCurrency: "EUR"}, nil)
	require.NoError(t, err)

	out := v.Validate(Input{Candidates: []entity.CandidateRecord{
		{Row: 1, OriginalName: "Roll", Category: "Bakery", Subcategory: "Bread", Price: dec("0.40"), Quantity: dec(fmt.Sprint(DefaultMaxQuantity + 1)), Date: day("2024-11-20")},
	}})
	assert.Empty(t, out.Items)
	assert.Equal(t, 1, out.Excluded)
}
