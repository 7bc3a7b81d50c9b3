package domain

import "fmt"

// BlockRange is an inclusive span of blocks. A nil EndBlock means "up to the chain head",
// resolved when the range is fetched.
type BlockRange struct {
	StartBlock uint64
	EndBlock   *uint64
}

// NewBlockRange returns a closed range [start, end].
func NewBlockRange(start, end uint64) BlockRange {
	return BlockRange{StartBlock: start, EndBlock: &end}
}

// OpenRange returns a range from start up to the head.
func OpenRange(start uint64) BlockRange {
	return BlockRange{StartBlock: start}
}

// End returns the end block and whether the range is closed.
func (r BlockRange) End() (uint64, bool) {
	if r.EndBlock == nil {
		return 0, false
	}
	return *r.EndBlock, true
}

// Contains reports whether block n lies inside the range.
func (r BlockRange) Contains(n uint64) bool {
	if n < r.StartBlock {
		return false
	}
	end, ok := r.End()
	return !ok || n <= end
}

func (r BlockRange) String() string {
	if end, ok := r.End(); ok {
		return fmt.Sprintf("[%d,%d]", r.StartBlock, end)
	}
	return fmt.Sprintf("[%d,head]", r.StartBlock)
}
