package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"riptide/internal/riperrors"
)

// encodingName matches the cl100k_base encoding used by GPT-3.5/4-class
// models, the most broadly applicable choice for a generic exact count.
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// PreciseTokenCount computes an exact tiktoken count for text, on demand
// per SPEC_FULL §D.3 rather than inline during Chunk (which stays
// allocation-light for the SLA).
func PreciseTokenCount(text string) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, riperrors.Wrap(riperrors.Internal, "chunk.PreciseTokenCount", "load tiktoken encoding", err)
	}
	return len(e.Encode(text, nil, nil)), nil
}

// ApplyPreciseTokenCounts returns a copy of chunks with PreciseTokens filled
// in from the exact tiktoken count, leaving ApproxTokens untouched. A chunk
// is left with PreciseTokens unset (zero) if encoding fails for it
// (defensive: a bad encoding load shouldn't fail the whole batch).
func ApplyPreciseTokenCounts(chunks []Chunk) []Chunk {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		if n, err := PreciseTokenCount(out[i].Text); err == nil {
			out[i].PreciseTokens = n
		}
	}
	return out
}
