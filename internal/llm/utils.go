package llm

import (
	"encoding/base64"
	"strings"

	"github.com/joseph-ayodele/receipts-ingest/constants"
)

// DataURL encodes an image for inline transfer. The MIME type is taken from
// the payload's magic bytes when the caller did not provide one.
func DataURL(img Image) string {
	mt := img.MimeType
	if mt == "" {
		mt = constants.DetectImageFormat(img.Data).MimeType()
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

var refusalPhrases = []string{
	"unable to process images",
	"cannot process images",
	"can't process images",
	"can’t process images",
	"i'm sorry, but",
	"i’m sorry, but",
	"i can't assist",
	"i cannot assist",
	"i can’t assist",
}

// LooksLikeRefusal reports whether text is an apology instead of a table.
// Text that still carries the expected header is never treated as a refusal.
func LooksLikeRefusal(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, constants.CSVHeader[0]) {
		return false
	}
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
