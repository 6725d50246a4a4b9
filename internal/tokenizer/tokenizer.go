// Package tokenizer turns validation transcripts into the token IDs the
// acoustic model was trained on.
package tokenizer

// Tokenizer encodes text into token IDs.
type Tokenizer interface {
	// Encode tokenizes text and returns token IDs.
	Encode(text string) ([]int64, error)
}
