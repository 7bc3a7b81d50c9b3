// Package backfill recovers events missed while a listener was offline.
//
// # Design: Sequential Windows
//
// The offline range is cut into fixed-size windows that are fetched one after
// another. Events of a window are delivered in block order before the next
// window is requested, so upstream load stays bounded and backfilled events
// never interleave with each other.
//
// # Usage
//
//	rng, ok := backfill.Plan(resolved, watermark.Load(), head, opts.MaxOfflineRange)
//	if ok {
//	    runner := backfill.NewRunner(chainID, opts.WindowSize, source, log)
//	    stats, err := runner.Run(ctx, rng, deliver, advance)
//	}
package backfill

import (
	"fmt"

	"github.com/vietddude/chainevents/internal/core/domain"
)

// SplitRange cuts [from, to] into windows whose boundaries fall on from + k*size,
// so 100..650 with size 250 yields [100,350], [351,600], [601,650].
func SplitRange(from, to, size uint64) ([]domain.BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("window size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]domain.BlockRange, 0, (to-from)/size+1)
	lo := from
	for hi := from + size; ; hi += size {
		end := min(hi, to)
		ranges = append(ranges, domain.NewBlockRange(lo, end))
		if end == to {
			break
		}
		lo = end + 1
	}
	return ranges, nil
}

// Plan computes the recovery range. resolved is what the reconnect resolver reported;
// nil means there is no history and recovery is skipped. The start is raised to the
// watermark, the end defaults to head, and maxRange (0 = unlimited) caps the span by
// moving the start forward.
func Plan(resolved *domain.BlockRange, watermark, head, maxRange uint64) (rng domain.BlockRange, capped, ok bool) {
	if resolved == nil {
		return domain.BlockRange{}, false, false
	}

	start := max(resolved.StartBlock, watermark)
	end := head
	if e, closed := resolved.End(); closed && e < head {
		end = e
	}
	if start > end {
		return domain.BlockRange{}, false, false
	}

	if maxRange > 0 && end-start > maxRange {
		start = end - maxRange
		capped = true
	}
	return domain.NewBlockRange(start, end), capped, true
}
