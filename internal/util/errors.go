package util

import "errors"

// ErrNoExtractableText is returned by PDF extraction when a document
// parses but yields no text, typically a scanned paper with no OCR
// layer. The ingest workflow treats it as permanent and fails the
// paper instead of retrying.
var ErrNoExtractableText = errors.New("no extractable text found in PDF")
