package docinfo

import (
	"bytes"

	"github.com/ledongthuc/pdf"
)

// PageCount returns the number of pages in a PDF document, or 0 when
// the bytes cannot be parsed. Callers use this for logging and job
// metadata only, so parse failures are not errors.
func PageCount(data []byte) int {
	defer func() {
		// The pdf package panics on some malformed documents.
		_ = recover()
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
