package raster

// Mask is a boolean raster sharing a Grid's row-major layout.
type Mask struct {
	Rows, Cols int
	Bits       []bool
}

// Threshold marks every cell for which keep returns true.
func (g *Grid) Threshold(keep func(v float64) bool) *Mask {
	m := &Mask{Rows: g.Rows, Cols: g.Cols, Bits: make([]bool, len(g.Data))}
	for i, v := range g.Data {
		m.Bits[i] = keep(v)
	}
	return m
}

// At reports whether (row, col) is set.
func (m *Mask) At(row, col int) bool {
	return m.Bits[row*m.Cols+col]
}

// Count returns the number of set cells.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Dilate grows the mask by radius cells in every direction using a square
// (2·radius+1)² structuring element.
func (m *Mask) Dilate(radius int) *Mask {
	out := &Mask{Rows: m.Rows, Cols: m.Cols, Bits: make([]bool, len(m.Bits))}
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			if !m.At(r, c) {
				continue
			}
			for rr := max(r-radius, 0); rr <= min(r+radius, m.Rows-1); rr++ {
				for cc := max(c-radius, 0); cc <= min(c+radius, m.Cols-1); cc++ {
					out.Bits[rr*m.Cols+cc] = true
				}
			}
		}
	}
	return out
}
