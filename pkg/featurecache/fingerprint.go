package featurecache

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies the inputs a feature artifact was built from.
type Fingerprint uint64

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// ComputeFingerprint hashes the corpus file list (path, size, mtime), the tokenizer identity and
// the sequence length. Any change to one of them yields a different fingerprint.
func ComputeFingerprint(files []string, tokenizerIdentity string, maxSeqLength int) (Fingerprint, error) {
	sorted := slices.Clone(files)
	slices.Sort(sorted)

	h := xxhash.New()
	for _, file := range sorted {
		info, err := os.Stat(file)
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", file, err)
		}
		_, _ = h.WriteString(file)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(strconv.FormatInt(info.Size(), 10))
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(strconv.FormatInt(info.ModTime().UnixNano(), 10))
		_, _ = h.WriteString("\n")
	}
	_, _ = h.WriteString("tokenizer=" + tokenizerIdentity + "\n")
	_, _ = h.WriteString("max_seq_length=" + strconv.Itoa(maxSeqLength) + "\n")
	return Fingerprint(h.Sum64()), nil
}
