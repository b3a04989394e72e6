package room

import (
	"encoding/json"
	"time"
)

type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseKeyroom   Phase = "keyroom"
	PhaseCoderoom  Phase = "coderoom"
	PhaseSeeding   Phase = "seeding"
	PhaseCountdown Phase = "countdown"
	PhaseQuestions Phase = "questions"
	PhaseMarking   Phase = "marking"
	PhaseAward     Phase = "award"
	PhaseMaths     Phase = "maths"
	PhaseFinal     Phase = "final"
)

var phases = map[Phase]bool{
	PhaseLobby: true, PhaseKeyroom: true, PhaseCoderoom: true, PhaseSeeding: true,
	PhaseCountdown: true, PhaseQuestions: true, PhaseMarking: true, PhaseAward: true,
	PhaseMaths: true, PhaseFinal: true,
}

func (p Phase) Valid() bool { return phases[p] }

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Roles lists both player slots in a stable order.
var Roles = [2]Role{RoleHost, RoleGuest}

func (r Role) Valid() bool { return r == RoleHost || r == RoleGuest }

func (r Role) Opponent() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

const (
	RoundCount        = 5
	QuestionsPerRound = 3
)

type Verdict string

const (
	VerdictRight   Verdict = "right"
	VerdictWrong   Verdict = "wrong"
	VerdictUnknown Verdict = "unknown"
)

func (v Verdict) Valid() bool {
	return v == VerdictRight || v == VerdictWrong || v == VerdictUnknown
}

type Answer struct {
	Question string `json:"question"`
	Chosen   string `json:"chosen"`
	Correct  string `json:"correct"`
}

type Timing struct {
	TotalSeconds float64 `json:"totalSeconds"`
}

type MathsEvent struct {
	Prompt string `json:"prompt"`
	Year   int    `json:"year"`
}

// MathsScoring carries the ladder configuration of the maths round. Nil
// margins fall back to a percentage of the target total.
type MathsScoring struct {
	SharpshooterMargin *int `json:"sharpshooterMargin,omitempty"`
	BallparkMargin     *int `json:"ballparkMargin,omitempty"`
	PerfectPoints      int  `json:"perfectPoints"`
	SharpshooterPoints int  `json:"sharpshooterPoints"`
	BallparkPoints     int  `json:"ballparkPoints"`
	SafetyNetPoints    int  `json:"safetyNetPoints"`
}

type Maths struct {
	Events  []MathsEvent `json:"events"`
	Total   int          `json:"total"`
	Scoring MathsScoring `json:"scoring"`
}

// MathsAnswer is one player's estimate. Delta and Points stay nil until both
// players have submitted and the room moved to final.
type MathsAnswer struct {
	Events []int `json:"events"`
	Total  int   `json:"total"`
	Delta  *int  `json:"delta,omitempty"`
	Points *int  `json:"points,omitempty"`
}

type Meta struct {
	HostUID  string `json:"hostUid"`
	GuestUID string `json:"guestUid"`
}

type Countdown struct {
	StartAt *time.Time `json:"startAt"`
}

type Seeds struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Room is the shared per-game document. Per-role tables are keyed by the
// role that owns (writes) the entry.
type Room struct {
	Code     string    `json:"code"`
	State    Phase     `json:"state"`
	Round    int       `json:"round"`
	Meta     Meta      `json:"meta"`
	HostCode string    `json:"hostCode,omitempty"`
	Presence RoleFlags `json:"presence"`

	Countdown Countdown `json:"countdown"`

	Answers    RoundTable[[]Answer]  `json:"answers"`
	Submitted  AckTable              `json:"submitted"`
	// Marking is keyed by the marker: marking[host] holds the host's
	// verdicts on the guest's answers.
	Marking    RoundTable[[]Verdict] `json:"marking"`
	MarkingAck AckTable              `json:"markingAck"`
	AwardAck   AckTable              `json:"awardAck"`
	Timings    RoundTable[Timing]    `json:"timings"`

	Scores        RoundTable[int] `json:"scores"`
	SpeedBonuses  RoundTable[int] `json:"speedBonuses"`
	MarkingScores RoundTable[int] `json:"markingScores"`

	MathsAnswers    map[Role]*MathsAnswer `json:"mathsAnswers"`
	MathsAnswersAck RoleFlags             `json:"mathsAnswersAck"`
	Maths           Maths                 `json:"maths"`

	Seeds      Seeds      `json:"seeds"`
	Timestamps Timestamps `json:"timestamps"`
}

// New returns a room in the seeding phase with every table allocated.
func New(code string, meta Meta, maths Maths, now time.Time) *Room {
	r := &Room{
		Code:       code,
		State:      PhaseSeeding,
		Round:      1,
		Meta:       meta,
		Maths:      maths,
		Seeds:      Seeds{Progress: 0, Message: "Seeding pack."},
		Timestamps: Timestamps{CreatedAt: now.UTC(), UpdatedAt: now.UTC()},
	}
	r.Normalize()
	return r
}

// Normalize allocates nil tables, e.g. after decoding a sparse document.
func (r *Room) Normalize() {
	if r.Presence == nil {
		r.Presence = RoleFlags{}
	}
	if r.Answers == nil {
		r.Answers = RoundTable[[]Answer]{}
	}
	if r.Submitted == nil {
		r.Submitted = AckTable{}
	}
	if r.Marking == nil {
		r.Marking = RoundTable[[]Verdict]{}
	}
	if r.MarkingAck == nil {
		r.MarkingAck = AckTable{}
	}
	if r.AwardAck == nil {
		r.AwardAck = AckTable{}
	}
	if r.Timings == nil {
		r.Timings = RoundTable[Timing]{}
	}
	if r.Scores == nil {
		r.Scores = RoundTable[int]{}
	}
	if r.SpeedBonuses == nil {
		r.SpeedBonuses = RoundTable[int]{}
	}
	if r.MarkingScores == nil {
		r.MarkingScores = RoundTable[int]{}
	}
	if r.MathsAnswers == nil {
		r.MathsAnswers = map[Role]*MathsAnswer{}
	}
	if r.MathsAnswersAck == nil {
		r.MathsAnswersAck = RoleFlags{}
	}
}

// Clone returns a deep copy so snapshots never alias the stored document.
func (r *Room) Clone() *Room {
	b, err := json.Marshal(r)
	if err != nil {
		panic("room: clone: " + err.Error())
	}
	out := &Room{}
	if err := json.Unmarshal(b, out); err != nil {
		panic("room: clone: " + err.Error())
	}
	out.Normalize()
	return out
}

// TotalScore sums a role's round scores and speed bonuses plus maths points.
func (r *Room) TotalScore(role Role) int {
	total := 0
	for _, v := range r.Scores[role] {
		total += v
	}
	for _, v := range r.SpeedBonuses[role] {
		total += v
	}
	if ma := r.MathsAnswers[role]; ma != nil && ma.Points != nil {
		total += *ma.Points
	}
	return total
}
