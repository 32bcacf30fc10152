// Package geometry computes joint angles from landmark positions. All
// functions are pure and deterministic.
package geometry

import (
	"math"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// Angle returns the angle at vertex b formed by the rays b->a and b->c,
// in degrees clamped to [0,180]. The z coordinate is ignored; joint angles
// are evaluated in the image plane. ok is false when either ray has zero
// length, in which case the angle is undefined.
func Angle(a, b, c types.Landmark) (deg float64, ok bool) {
	bax := a.X - b.X
	bay := a.Y - b.Y
	bcx := c.X - b.X
	bcy := c.Y - b.Y

	lenBA := math.Hypot(bax, bay)
	lenBC := math.Hypot(bcx, bcy)
	if lenBA == 0 || lenBC == 0 {
		return 0, false
	}

	cosine := (bax*bcx + bay*bcy) / (lenBA * lenBC)
	// Clamp to absorb floating-point drift before acos.
	if cosine > 1 {
		cosine = 1
	} else if cosine < -1 {
		cosine = -1
	}

	deg = math.Acos(cosine) * 180 / math.Pi
	if deg < 0 {
		deg = 0
	} else if deg > 180 {
		deg = 180
	}
	return deg, true
}
