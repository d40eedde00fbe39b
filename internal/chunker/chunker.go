package chunker

import "fmt"

// Options controls how text is chunked.
type Options struct {
	MaxSize int // maximum chunk length in runes
	Overlap int // runes shared between consecutive chunks
}

// Validate rejects parameter combinations that cannot produce a terminating,
// lossless chunk sequence.
func (o Options) Validate() error {
	if o.MaxSize <= 0 {
		return fmt.Errorf("max size must be positive, got %d", o.MaxSize)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", o.Overlap)
	}
	if o.Overlap >= o.MaxSize {
		return fmt.Errorf("overlap %d must be smaller than max size %d", o.Overlap, o.MaxSize)
	}
	return nil
}

// Chunk is a bounded segment of the extracted document text.
type Chunk struct {
	Index int
	Text  string
}

// Split walks text in windows of MaxSize runes, advancing MaxSize-Overlap
// per step so consecutive chunks share Overlap runes of context. Empty text
// yields no chunks; text shorter than MaxSize yields exactly one; the final
// window may be shorter than MaxSize and is still emitted. The output is
// fully determined by the input, so re-processing a document reproduces the
// identical sequence.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := opts.MaxSize - opts.Overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + opts.MaxSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// Reassemble concatenates chunks with the overlap trimmed, reconstructing
// the original text. Used for integrity checks during re-ingestion.
func Reassemble(chunks []Chunk, overlap int) string {
	var out []rune
	for i, c := range chunks {
		runes := []rune(c.Text)
		trim := 0
		if i > 0 {
			trim = overlap
			if trim > len(runes) {
				trim = len(runes)
			}
		}
		out = append(out, runes[trim:]...)
	}
	return string(out)
}
