package scanner

// Rotation walks a fixed origin pool in deterministic round-robin slices so
// every origin is scanned within pool/slice cycles even when the budget only
// covers a few origins per cycle.
type Rotation struct {
	pool   []string
	slice  int
	cursor int
}

// NewRotation creates a rotation over the origin pool. sliceSize is clamped
// to the pool size.
func NewRotation(pool []string, sliceSize int) *Rotation {
	if sliceSize <= 0 || sliceSize > len(pool) {
		sliceSize = len(pool)
	}
	return &Rotation{pool: pool, slice: sliceSize}
}

// Next returns the next slice of origins and advances the cursor, wrapping
// around the pool boundary.
func (r *Rotation) Next() []string {
	if len(r.pool) == 0 {
		return nil
	}
	out := make([]string, 0, r.slice)
	for i := 0; i < r.slice; i++ {
		out = append(out, r.pool[(r.cursor+i)%len(r.pool)])
	}
	r.cursor = (r.cursor + r.slice) % len(r.pool)
	return out
}

// PoolSize returns the number of origins in the pool.
func (r *Rotation) PoolSize() int {
	return len(r.pool)
}
