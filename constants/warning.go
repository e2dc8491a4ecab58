package constants

// Row and submission warning kinds reported in diagnostics.
const (
	WarnMalformedRow      = "malformed_row"
	WarnSubcategoryMatch  = "subcategory_match"
	WarnUnclassified      = "unclassified_category"
	WarnMissingPrice      = "missing_price"
	WarnNegativePrice     = "negative_price"
	WarnQuantityAdjusted  = "quantity_adjusted"
	WarnQuantityTooLarge  = "quantity_too_large"
	WarnInvalidCurrency   = "invalid_currency"
	WarnDateFilled        = "date_filled"
	WarnTotalMismatch     = "total_mismatch"
	WarnTotalUnparseable  = "total_unparseable"
	WarnSinkFailed        = "sink_failed"
	WarnExtractionRefused = "extraction_refused"
	WarnPhotoRejected     = "photo_rejected"
)
