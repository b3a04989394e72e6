package scoring

import (
	"math"
	"testing"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

func intp(v int) *int { return &v }

func roundOneItems() []room.Item {
	return []room.Item{
		{Question: "Capital of France?", CorrectAnswer: "Paris"},
		{Question: "Largest planet?", CorrectAnswer: "Jupiter"},
		{Prompt: "Smallest prime?", Options: []string{"2", "1"}, Correct: "A"},
	}
}

func TestScoreRound(t *testing.T) {
	items := roundOneItems()
	answers := []room.Answer{
		{Question: "Capital of France?", Chosen: "  paris "},
		{Question: "Largest planet?", Chosen: "Saturn"},
		{Question: "Smallest prime?", Chosen: "2"},
	}
	if got := ScoreRound(answers, items); got != 2 {
		t.Fatalf("expected 2 correct, got %d", got)
	}
	// Pure: same input, same output.
	if got := ScoreRound(answers, items); got != 2 {
		t.Fatalf("second evaluation differs: %d", got)
	}
}

func TestScoreRoundEmptyChosenNeverCounts(t *testing.T) {
	items := []room.Item{{Question: "q", CorrectAnswer: ""}, {Question: "q2", CorrectAnswer: "x"}}
	answers := []room.Answer{{Chosen: ""}, {Chosen: ""}, {Chosen: ""}}
	if got := ScoreRound(answers, items); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestScoreRoundPlaceholderNeverCounts(t *testing.T) {
	items := []room.Item{{Question: "q", CorrectAnswer: "yes"}}
	answers := []room.Answer{{Chosen: "yes"}, {Chosen: "(missing question)"}, {Chosen: "anything"}}
	if got := ScoreRound(answers, items); got != 1 {
		t.Fatalf("expected only the real item to count, got %d", got)
	}
}

func TestScoreMarking(t *testing.T) {
	items := roundOneItems()
	answers := []room.Answer{{Chosen: "Paris"}, {Chosen: "Saturn"}, {Chosen: "2"}}
	verdicts := []room.Verdict{room.VerdictRight, room.VerdictWrong, room.VerdictUnknown}
	if got := ScoreMarking(verdicts, answers, items); got != 2 {
		t.Fatalf("expected 2 accurate verdicts, got %d", got)
	}
}

func TestAwardSpeedBonus(t *testing.T) {
	cases := []struct {
		name        string
		host, guest float64
		wantH       int
		wantG       int
	}{
		{"host faster", 12.3, 15.0, 1, 0},
		{"guest faster", 20, 19.5, 0, 1},
		{"exact tie", 10, 10, 0, 0},
		{"within epsilon", 10.001, 10.004, 0, 0},
		{"guest missing", 30, math.Inf(1), 1, 0},
		{"both missing", math.Inf(1), math.Inf(1), 0, 0},
	}
	for _, c := range cases {
		h, g := AwardSpeedBonus(c.host, c.guest)
		if h != c.wantH || g != c.wantG {
			t.Fatalf("%s: expected %d/%d, got %d/%d", c.name, c.wantH, c.wantG, h, g)
		}
		if h == 1 && g == 1 {
			t.Fatalf("%s: both roles awarded", c.name)
		}
	}
}

func TestScoreMathsLadder(t *testing.T) {
	cfg := room.MathsScoring{PerfectPoints: 5, SharpshooterPoints: 3, BallparkPoints: 2, SafetyNetPoints: 1}

	delta, pts := ScoreMaths(1000, 1000, cfg)
	if delta != 0 || pts != 5 {
		t.Fatalf("exact hit: expected 0/5, got %d/%d", delta, pts)
	}

	cfg.SharpshooterMargin = intp(20)
	delta, pts = ScoreMaths(1005, 1000, cfg)
	if delta != 5 || pts != 3 {
		t.Fatalf("sharpshooter: expected 5/3, got %d/%d", delta, pts)
	}

	// Ballpark defaults to 5% of target.
	delta, pts = ScoreMaths(1040, 1000, cfg)
	if delta != 40 || pts != 2 {
		t.Fatalf("ballpark: expected 40/2, got %d/%d", delta, pts)
	}

	_, pts = ScoreMaths(2000, 1000, cfg)
	if pts != 0 {
		t.Fatalf("far off: expected 0 points, got %d", pts)
	}
}

func TestScoreMathsDefaultMargins(t *testing.T) {
	sharp, ballpark := Margins(968, room.MathsScoring{})
	if sharp != 19 || ballpark != 48 {
		t.Fatalf("expected 19/48, got %d/%d", sharp, ballpark)
	}
}

func TestScoreMathsPairSafetyNet(t *testing.T) {
	cfg := room.MathsScoring{PerfectPoints: 5, SharpshooterPoints: 3, BallparkPoints: 2, SafetyNetPoints: 1}
	host, guest := ScoreMathsPair(2000, 3000, 1000, cfg)
	if host.Points != 1 || guest.Points != 0 {
		t.Fatalf("closer player should get the safety net only: %+v %+v", host, guest)
	}
	host, guest = ScoreMathsPair(0, 2000, 1000, cfg)
	if host.Points != 1 || guest.Points != 1 {
		t.Fatalf("tie should give both the safety net: %+v %+v", host, guest)
	}
}

func TestScoreMathsScenarioD(t *testing.T) {
	host, guest := ScoreMathsPair(968, 1020, 968, room.MathsScoring{})
	if host.Delta != 0 || host.Points != 5 {
		t.Fatalf("host: expected 0/5, got %+v", host)
	}
	if guest.Delta != 52 || guest.Points != 0 {
		t.Fatalf("guest: expected 52/0, got %+v", guest)
	}
}
