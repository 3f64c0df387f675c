package features

// TruncateSeqPair shortens a and b until len(a)+len(b) <= maxLength, removing one token at a
// time from the tail of whichever sequence is longer. Ties remove from b.
// The returned slices alias the inputs.
func TruncateSeqPair(a, b []string, maxLength int) ([]string, []string) {
	for len(a)+len(b) > maxLength {
		if len(a) > len(b) {
			a = a[:len(a)-1]
		} else {
			b = b[:len(b)-1]
		}
	}
	return a, b
}
