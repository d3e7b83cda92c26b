package ffutil

import (
	"fmt"
	"math"
)

// DisplayRotation computes the clockwise display rotation, in degrees,
// encoded by a 3x3 display matrix in 16.16 fixed point (the format
// FFmpeg attaches as AV_PKT_DATA_DISPLAYMATRIX side data). Returns NaN if
// the matrix is degenerate.
//
// This is libavutil's av_display_rotation_get with the sign flipped: the
// matrix's upper 2x2 block is a scaled rotation; dividing out the per-axis
// scale and taking atan2 recovers the angle. av_display_rotation_get
// reports it counterclockwise; negating it gives the clockwise angle
// RotateFilters expects.
func DisplayRotation(matrix [9]int32) float64 {
	conv := func(x int32) float64 { return float64(x) / 65536.0 }

	m := [9]float64{}
	for i, v := range matrix {
		m[i] = conv(v)
	}

	scale0 := math.Hypot(m[0], m[3])
	scale1 := math.Hypot(m[1], m[4])
	if scale0 == 0 || scale1 == 0 {
		return math.NaN()
	}

	rotation := math.Atan2(m[1]/scale1, m[0]/scale0) * 180 / math.Pi
	return rotation
}

// RotateFilters decides which libavfilter filters (transpose/hflip/
// vflip/rotate) to insert for a display rotation of theta degrees,
// snapping to 90/180/270 within a ±1° tolerance. Returns nil if no
// rotation is needed (|theta|<1, mod 360).
func RotateFilters(theta float64) []string {
	if math.IsNaN(theta) {
		return nil
	}
	theta = math.Mod(theta, 360)
	if theta < 0 {
		theta += 360
	}

	const tol = 1.0
	switch {
	case within(theta, 0, tol) || within(theta, 360, tol):
		return nil
	case within(theta, 90, tol):
		return []string{"transpose=clock"}
	case within(theta, 180, tol):
		return []string{"hflip", "vflip"}
	case within(theta, 270, tol):
		return []string{"transpose=cclock"}
	default:
		rad := theta * math.Pi / 180
		return []string{fmtRotate(rad)}
	}
}

func within(v, target, tol float64) bool {
	return math.Abs(v-target) < tol
}

func fmtRotate(rad float64) string {
	// Arbitrary-angle rotation, filled with black outside the frame
	// bounds so odd angles don't produce transparent corners.
	return fmt.Sprintf("rotate=%.6f:c=black", rad)
}
