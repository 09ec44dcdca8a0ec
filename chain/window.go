package chain

// WindowWalker walks [start, end] in inclusive windows of batchSize+1
// blocks. A range-limit failure calls Shrink and retries the same start.
type WindowWalker struct {
	start     uint64
	end       uint64
	batchSize uint64
	minBatch  uint64
}

func NewWindowWalker(start, end, batchSize, minBatch uint64) *WindowWalker {
	return &WindowWalker{start: start, end: end, batchSize: batchSize, minBatch: minBatch}
}

func (w *WindowWalker) Done() bool {
	return w.start > w.end
}

// Window returns the current inclusive block range.
func (w *WindowWalker) Window() (uint64, uint64) {
	hi := w.start + w.batchSize
	if hi > w.end || hi < w.start {
		hi = w.end
	}
	return w.start, hi
}

func (w *WindowWalker) Advance() {
	_, hi := w.Window()
	w.start = hi + 1
}

// Shrink divides the batch size by 5, never going below minBatch. It
// returns false when the size would not get smaller.
func (w *WindowWalker) Shrink() bool {
	next := w.batchSize / 5
	if next < w.minBatch {
		next = w.minBatch
	}
	if next >= w.batchSize {
		return false
	}
	w.batchSize = next
	return true
}

func (w *WindowWalker) BatchSize() uint64 {
	return w.batchSize
}
