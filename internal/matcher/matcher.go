// Package matcher finds which reference form a scanned page looks like.
//
// Pages are compared pixel by pixel. Scan skew is compensated by rotating the
// reference through a small window of angles; perspective is not corrected.
// Each comparison touches every pixel, so callers should keep the number of
// pages and references small.
package matcher

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Defaults for Matcher fields left at zero.
const (
	DefaultThreshold     = 0.10
	DefaultIdentityScore = 0.01
	DefaultMaxDistance   = 0.20
	DefaultMaxAngle      = 5
	DefaultAngleStep     = 1
)

// Matcher holds the comparison parameters. The zero value uses the defaults.
type Matcher struct {
	// Threshold is the intensity difference, as a fraction of full scale,
	// above which two pixels count as different.
	Threshold float64
	// IdentityScore is the unrotated score below which a reference is
	// accepted without searching rotations.
	IdentityScore float64
	// MaxDistance is the largest score a best match may have. Anything
	// above it means no reference matched.
	MaxDistance float64
	// MaxAngle bounds the rotation search to [-MaxAngle, MaxAngle] degrees.
	MaxAngle int
	// AngleStep is the rotation search step in degrees.
	AngleStep int
}

// New returns a Matcher with default parameters.
func New() *Matcher {
	return &Matcher{}
}

func (m *Matcher) threshold() float64 {
	if m.Threshold > 0 {
		return m.Threshold
	}
	return DefaultThreshold
}

func (m *Matcher) identityScore() float64 {
	if m.IdentityScore > 0 {
		return m.IdentityScore
	}
	return DefaultIdentityScore
}

func (m *Matcher) maxDistance() float64 {
	if m.MaxDistance > 0 {
		return m.MaxDistance
	}
	return DefaultMaxDistance
}

func (m *Matcher) angles() []int {
	maxAngle, step := m.MaxAngle, m.AngleStep
	if maxAngle <= 0 {
		maxAngle = DefaultMaxAngle
	}
	if step <= 0 {
		step = DefaultAngleStep
	}
	var out []int
	for a := -maxAngle; a <= maxAngle; a += step {
		if a != 0 {
			out = append(out, a)
		}
	}
	return out
}

// BestMatch returns the index of the reference that best aligns with
// candidate, or -1 when either input is empty or nothing is close enough.
// Exact ties go to the earlier reference.
func (m *Matcher) BestMatch(candidate *image.Gray, references []*image.Gray) int {
	if candidate == nil || len(references) == 0 {
		return -1
	}

	scores := make([]float64, len(references))
	bestIdx, bestScore := -1, math.Inf(1)
	for i, ref := range references {
		scores[i] = m.Score(candidate, ref)
		if scores[i] < bestScore {
			bestIdx, bestScore = i, scores[i]
		}
	}
	if bestScore < m.identityScore() {
		return bestIdx
	}

	for _, angle := range m.angles() {
		for i, ref := range references {
			if s := m.Score(candidate, Rotate(ref, float64(angle))); s < scores[i] {
				scores[i] = s
			}
		}
	}

	bestIdx, bestScore = -1, math.Inf(1)
	for i, s := range scores {
		if s < bestScore {
			bestIdx, bestScore = i, s
		}
	}
	if bestScore > m.maxDistance() {
		return -1
	}
	return bestIdx
}

// Score is the fraction of pixels whose intensity differs by more than the
// threshold. References of a different size are scaled to the candidate first.
func (m *Matcher) Score(a, b *image.Gray) float64 {
	if a.Bounds().Size() != b.Bounds().Size() {
		scaled := image.NewGray(image.Rectangle{Max: a.Bounds().Size()})
		draw.BiLinear.Scale(scaled, scaled.Bounds(), b, b.Bounds(), draw.Src, nil)
		b = scaled
	}
	size := a.Bounds().Size()
	total := size.X * size.Y
	if total == 0 {
		return 0
	}
	limit := int(m.threshold() * 255)
	var different int
	for y := 0; y < size.Y; y++ {
		rowA := a.Pix[y*a.Stride : y*a.Stride+size.X]
		rowB := b.Pix[y*b.Stride : y*b.Stride+size.X]
		for x := range rowA {
			d := int(rowA[x]) - int(rowB[x])
			if d < 0 {
				d = -d
			}
			if d > limit {
				different++
			}
		}
	}
	return float64(different) / float64(total)
}

// Rotate returns src turned by degrees about its center. Uncovered corners
// are filled white, the paper color.
func Rotate(src *image.Gray, degrees float64) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)

	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, s2d, src, b, draw.Over, nil)
	return dst
}
