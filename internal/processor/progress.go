package processor

// BatchProgress is a snapshot of batch position. Indexes are 1-based; a
// PageIndex of 0 means the current document has not finished a page yet.
type BatchProgress struct {
	DocumentIndex int
	DocumentTotal int
	PageIndex     int
	PageTotal     int
	Filename      string
}

// Percent returns overall completion in the range 0..100.
func (p BatchProgress) Percent() int {
	if p.DocumentTotal <= 0 {
		return 0
	}
	done := float64(p.DocumentIndex - 1)
	if done < 0 {
		done = 0
	}
	if p.PageTotal > 0 {
		done += float64(p.PageIndex) / float64(p.PageTotal)
	}
	pct := int(done / float64(p.DocumentTotal) * 100)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressSink receives progress snapshots. Report is called synchronously
// from the batch loop and should return quickly.
type ProgressSink interface {
	Report(progress BatchProgress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(progress BatchProgress)

// Report calls f(progress).
func (f ProgressFunc) Report(progress BatchProgress) {
	f(progress)
}
