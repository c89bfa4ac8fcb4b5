package nalu

// Span is a byte range inside a memory region.
type Span struct {
	Offset int
	Length int
}

// End returns the offset of the first byte after the span.
func (s Span) End() int {
	return s.Offset + s.Length
}

// Contains checks whether other lies entirely inside s.
// Empty spans are never contained and never contain anything.
func (s Span) Contains(other Span) bool {
	if s.Length <= 0 || other.Length <= 0 {
		return false
	}
	return other.Offset >= s.Offset && other.End() <= s.End()
}
