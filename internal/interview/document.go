package interview

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxDocumentSize is the largest résumé sent inline to an extraction model.
const MaxDocumentSize = 20 << 20

// ReadDocument loads a résumé from path and determines its MIME type.
func ReadDocument(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("interview: read document: %w", err)
	}
	if info.Size() > MaxDocumentSize {
		return nil, "", fmt.Errorf("interview: read document: %s is %d bytes, limit is %d", path, info.Size(), MaxDocumentSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("interview: read document: %w", err)
	}
	return data, DocumentMIME(path, data), nil
}

// DocumentMIME guesses the MIME type of a document from its file extension,
// falling back to content sniffing. Parameters such as charset are stripped.
func DocumentMIME(path string, data []byte) string {
	typ := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if typ == "" {
		typ = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(typ); err == nil {
		return mediaType
	}
	return typ
}
