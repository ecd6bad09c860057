package cr2

// SensorInfo holds the sensor geometry from the MakerNote SensorInfo
// table: the full sensor size, the borders of the photographically
// active area and the black-level mask margins.
//
//                          SENSOR
//    +---------------------------------------------+
//    |                            TOP BORDER |  '  | |
//    |      _________________________________v  '  | |
//    |  L  |                                 |  '  | |
//    |  E  |                                 | B'B | H
//    |  F  |                                 | O'O | E
//    |  T  |             IMAGE               | T'R | I
//    |     |                                 | T'D | G
//    |  B  |                                 | O'E | H
//    |  O  |                                 | M'R | T
//    |  R  |                                 |  '  | |
//    |  D  |                                 |  '  | |
//    |  E  |                                 |  '  | |
//    |  R  |_________________________________|..v  | |
//    |- - >|                                 '     | |
//    |- - - - - - - RIGHT BORDER- - - - - - >'     | |
//    +---------------------------------------------+ v
//    - - - - - - - - - - WIDTH - - - - - - - - - ->
type SensorInfo struct {
	Width  int
	Height int

	LeftBorder   int
	TopBorder    int
	RightBorder  int
	BottomBorder int

	BlackMaskLeft   int
	BlackMaskTop    int
	BlackMaskRight  int
	BlackMaskBottom int
}

// sensorInfoFromVals builds a SensorInfo from the MakerNote table values.
// The layout is positional; tables shorter than expected leave the
// remaining fields zero.
func sensorInfoFromVals(vals []uint64) SensorInfo {
	at := func(i int) int {
		if i < len(vals) {
			return int(vals[i])
		}
		return 0
	}
	return SensorInfo{
		Width:           at(1),
		Height:          at(2),
		LeftBorder:      at(5),
		TopBorder:       at(6),
		RightBorder:     at(7),
		BottomBorder:    at(8),
		BlackMaskLeft:   at(9),
		BlackMaskTop:    at(10),
		BlackMaskRight:  at(11),
		BlackMaskBottom: at(12),
	}
}

// Borders returns the active-area margins relative to the top-left
// sensor pixel. The sensor carries a Bayer matrix, so each border is
// snapped to an even boundary: left/top rounded up, right/bottom down.
func (s SensorInfo) Borders() (left, top, right, bottom int) {
	left = s.LeftBorder + s.LeftBorder%2
	top = s.TopBorder + s.TopBorder%2
	right = s.RightBorder - s.RightBorder%2
	bottom = s.BottomBorder - s.BottomBorder%2
	return left, top, right, bottom
}

// hasBorders reports whether the table described a usable crop region.
func (s SensorInfo) hasBorders() bool {
	l, t, r, b := s.Borders()
	return r > l && b > t
}
