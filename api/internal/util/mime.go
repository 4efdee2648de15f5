package util

import (
	"bytes"
	"net/http"
)

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether b starts with the PDF header.
func IsPDF(b []byte) bool {
	return bytes.HasPrefix(b, pdfMagic)
}

// SniffMime detects the MIME type of a document prefix, preferring the cheap
// PDF check over the generic net/http sniffer.
func SniffMime(b []byte) string {
	if IsPDF(b) {
		return "application/pdf"
	}
	if len(b) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(b)
}
