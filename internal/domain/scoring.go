package domain

import "strings"

// Rapid-fire marking.
const (
	CorrectReward = 1.0
	WrongPenalty  = -0.25
	SkippedOption = "__skipped__"
	defaultPoints = 1.0
)

// CodeScoring selects how a code-battle submission is scored.
type CodeScoring string

const (
	// CodeScoringRatio awards the fraction of passing test cases.
	CodeScoringRatio CodeScoring = "ratio"
	// CodeScoringBinary awards a full point only when every test case passes.
	CodeScoringBinary CodeScoring = "binary"
)

// Judgement is the correctness verdict for one submission.
type Judgement struct {
	Correct   bool
	Skipped   bool
	PassRatio float64
}

// ScoreDelta applies the negative-marking policy. Skips never score, in any mode.
func ScoreDelta(mode Mode, j Judgement, policy CodeScoring) float64 {
	if j.Skipped {
		return 0
	}
	switch mode {
	case ModeRapidFire:
		if j.Correct {
			return CorrectReward
		}
		return WrongPenalty
	case ModeCodeBattle:
		if policy == CodeScoringBinary {
			if j.Correct {
				return defaultPoints
			}
			return 0
		}
		return j.PassRatio
	}
	return 0
}

// JudgeOption checks a rapid-fire answer by exact option match.
func JudgeOption(q Question, selected string) Judgement {
	return Judgement{Correct: selected != "" && selected == q.CorrectOption}
}

// JudgeOutputs compares outputs[i] with the expected output of tests[i].
// A missing output fails its test.
func JudgeOutputs(tests []TestCase, outputs []string) Judgement {
	if len(tests) == 0 {
		return Judgement{}
	}
	passed := 0
	for i, tc := range tests {
		if i < len(outputs) && strings.TrimSpace(outputs[i]) == strings.TrimSpace(tc.Expected) {
			passed++
		}
	}
	ratio := float64(passed) / float64(len(tests))
	return Judgement{Correct: passed == len(tests), PassRatio: ratio}
}
