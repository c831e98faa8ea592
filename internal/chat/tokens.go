package chat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/gqx-labs/gqx/internal/log"
)

// messageOverheadTokens approximates the per-message framing cost of chat
// wire formats (role markers and separators).
const messageOverheadTokens = 4

// tokenCounter counts prompt tokens with tiktoken, loading the encoding
// lazily so construction never blocks on the BPE fetch. If the encoding
// cannot be loaded it degrades to a bytes/4 estimate.
type tokenCounter struct {
	encoding string
	override func(string) int
	logger   log.Logger

	once sync.Once
	tkm  *tiktoken.Tiktoken
}

func newTokenCounter(encoding string, override func(string) int, logger log.Logger) *tokenCounter {
	return &tokenCounter{encoding: encoding, override: override, logger: logger}
}

func (tc *tokenCounter) count(text string) int {
	if tc.override != nil {
		return tc.override(text)
	}
	tc.once.Do(func() {
		tkm, err := tiktoken.GetEncoding(tc.encoding)
		if err != nil {
			tc.logger.Warn("loading token encoding failed, estimating instead",
				"encoding", tc.encoding, "error", err)
			return
		}
		tc.tkm = tkm
	})
	if tc.tkm == nil {
		return len(text)/4 + 1
	}
	return len(tc.tkm.Encode(text, nil, nil))
}
