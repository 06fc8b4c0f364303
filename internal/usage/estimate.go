package usage

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var codecOnce = sync.OnceValues(func() (tokenizer.Codec, error) {
	return tokenizer.Get(tokenizer.Cl100kBase)
})

// EstimateTokens approximates the token count of text with the cl100k_base
// vocabulary. Used when an upstream response carries no usage block; falls
// back to a bytes/4 heuristic if the vocabulary cannot be loaded.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	codec, err := codecOnce()
	if err != nil {
		return len(text) / 4
	}
	n, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}
