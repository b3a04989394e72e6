// Package scoring holds the side-effect-free scoring rules: question
// correctness, the per-round speed bonus, marking accuracy and the maths
// estimate ladder.
package scoring

import (
	"math"
	"strings"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

// TieEpsilon absorbs floating noise when comparing round timings.
const TieEpsilon = 0.01

var defaultPoints = room.MathsScoring{
	PerfectPoints:      5,
	SharpshooterPoints: 3,
	BallparkPoints:     2,
	SafetyNetPoints:    1,
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// IsCorrect reports whether an answer matches the item's resolved answer.
func IsCorrect(a room.Answer, it room.Item) bool {
	want := it.Answer()
	chosen := normalize(a.Chosen)
	if chosen == "" || want == "" {
		return false
	}
	return chosen == normalize(want)
}

// ScoreRound counts correct answers. Slots beyond the items given are
// treated as placeholders.
func ScoreRound(answers []room.Answer, items []room.Item) int {
	items = room.PadItems(items)
	n := 0
	for i, a := range answers {
		if i >= room.QuestionsPerRound {
			break
		}
		if IsCorrect(a, items[i]) {
			n++
		}
	}
	return n
}

// ScoreMarking counts how many verdicts agree with the truth about the
// opponent's answers. Unknown verdicts never count.
func ScoreMarking(verdicts []room.Verdict, answers []room.Answer, items []room.Item) int {
	items = room.PadItems(items)
	n := 0
	for i, v := range verdicts {
		if i >= room.QuestionsPerRound || i >= len(answers) {
			break
		}
		correct := IsCorrect(answers[i], items[i])
		if (v == room.VerdictRight && correct) || (v == room.VerdictWrong && !correct) {
			n++
		}
	}
	return n
}

func RoundSeconds(s float64) float64 {
	return math.Round(s*100) / 100
}

// AwardSpeedBonus gives 1 to the strictly faster player. Timings closer than
// TieEpsilon award neither. Pass math.Inf(1) for a missing timing.
func AwardSpeedBonus(hostSeconds, guestSeconds float64) (host, guest int) {
	hInf, gInf := math.IsInf(hostSeconds, 1), math.IsInf(guestSeconds, 1)
	switch {
	case hInf && gInf:
		return 0, 0
	case gInf:
		return 1, 0
	case hInf:
		return 0, 1
	}
	h, g := RoundSeconds(hostSeconds), RoundSeconds(guestSeconds)
	if math.Abs(h-g) < TieEpsilon {
		return 0, 0
	}
	if h < g {
		return 1, 0
	}
	return 0, 1
}

// WithDefaults fills zero point values and leaves nil margins for
// percentage resolution in Margins.
func WithDefaults(cfg room.MathsScoring) room.MathsScoring {
	if cfg.PerfectPoints == 0 && cfg.SharpshooterPoints == 0 && cfg.BallparkPoints == 0 && cfg.SafetyNetPoints == 0 {
		cfg.PerfectPoints = defaultPoints.PerfectPoints
		cfg.SharpshooterPoints = defaultPoints.SharpshooterPoints
		cfg.BallparkPoints = defaultPoints.BallparkPoints
		cfg.SafetyNetPoints = defaultPoints.SafetyNetPoints
	}
	return cfg
}

// Margins returns the sharpshooter and ballpark margins, defaulting to 2% and
// 5% of the target.
func Margins(target int, cfg room.MathsScoring) (sharpshooter, ballpark int) {
	abs := math.Abs(float64(target))
	sharpshooter = int(math.Round(abs * 0.02))
	ballpark = int(math.Round(abs * 0.05))
	if cfg.SharpshooterMargin != nil {
		sharpshooter = *cfg.SharpshooterMargin
	}
	if cfg.BallparkMargin != nil {
		ballpark = *cfg.BallparkMargin
	}
	return sharpshooter, ballpark
}

// ScoreMaths scores one estimate on the ladder, without the safety net.
func ScoreMaths(playerTotal, targetTotal int, cfg room.MathsScoring) (delta, points int) {
	cfg = WithDefaults(cfg)
	delta = playerTotal - targetTotal
	if delta < 0 {
		delta = -delta
	}
	sharp, ballpark := Margins(targetTotal, cfg)
	switch {
	case delta == 0:
		points = cfg.PerfectPoints
	case delta <= sharp:
		points = cfg.SharpshooterPoints
	case delta <= ballpark:
		points = cfg.BallparkPoints
	}
	return delta, points
}

type MathsResult struct {
	Delta  int `json:"delta"`
	Points int `json:"points"`
}

// ScoreMathsPair scores both estimates and applies the safety net: when the
// ladder gives both players nothing, the closer one gets SafetyNetPoints and
// an exact tie gives it to both.
func ScoreMathsPair(hostTotal, guestTotal, targetTotal int, cfg room.MathsScoring) (host, guest MathsResult) {
	cfg = WithDefaults(cfg)
	host.Delta, host.Points = ScoreMaths(hostTotal, targetTotal, cfg)
	guest.Delta, guest.Points = ScoreMaths(guestTotal, targetTotal, cfg)
	if host.Points != 0 || guest.Points != 0 {
		return host, guest
	}
	switch {
	case host.Delta < guest.Delta:
		host.Points = cfg.SafetyNetPoints
	case guest.Delta < host.Delta:
		guest.Points = cfg.SafetyNetPoints
	default:
		host.Points = cfg.SafetyNetPoints
		guest.Points = cfg.SafetyNetPoints
	}
	return host, guest
}
