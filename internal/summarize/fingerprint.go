package summarize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint derives the deterministic cache key for a summarization
// request. Two requests with identical (content, model, length, prompt)
// tuples always map to the same fingerprint; field boundaries are delimited
// so no two distinct tuples can collide by concatenation.
func Fingerprint(content, model string, summaryLength int, systemPrompt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%d\x00%s\x00%d\x00%s",
		len(content), content, summaryLength, model, len(systemPrompt), systemPrompt)
	return hex.EncodeToString(h.Sum(nil))
}
