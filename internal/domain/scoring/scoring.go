// Package scoring defines per game+playtype rules: the canonical vocabularies
// converters map into, grade and percent derivation, and the rating
// algorithms personal bests are computed under.
package scoring

import (
	"fmt"
	"math"

	"github.com/okian/scoreingest/internal/domain/model"
)

// Algorithm computes a comparable value for a score on a chart. Higher is
// better. ok is false when the algorithm does not apply to the score.
type Algorithm struct {
	Name  string
	Value func(chart model.Chart, sd model.ScoreData) (value float64, ok bool)
}

// ClassSet is an ordered (worst to best) set of classes, e.g. dans.
type ClassSet struct {
	Name   string
	Values []string
}

// Rules is the configuration of one GPT.
type Rules struct {
	GPT              model.GPT
	Difficulties     []string
	Lamps            []string // worst to best
	Grades           []string // worst to best
	Judgements       []string
	DistinctReplays  bool
	DefaultAlgorithm string
	Algorithms       []Algorithm
	ClassSets        []ClassSet

	maxScore func(chart model.Chart) int
	fixedMax int // 0 when the max depends on the chart
	percent  func(score int, chart model.Chart) float64
	grade    func(score int, chart model.Chart) string
}

// For returns the rules of gpt.
func For(gpt model.GPT) (*Rules, bool) {
	r, ok := registry[gpt]
	return r, ok
}

// MustFor is For that panics on an unsupported GPT.
func MustFor(gpt model.GPT) *Rules {
	r, ok := For(gpt)
	if !ok {
		panic(fmt.Sprintf("scoring: no rules for %s", gpt))
	}
	return r
}

// LampIndex returns the position of lamp, or -1 if it is not a lamp of this GPT.
func (r *Rules) LampIndex(lamp string) int { return indexOf(r.Lamps, lamp) }

// HasDifficulty reports whether d is a canonical difficulty.
func (r *Rules) HasDifficulty(d string) bool { return indexOf(r.Difficulties, d) >= 0 }

// HasJudgement reports whether j is a canonical judgement key.
func (r *Rules) HasJudgement(j string) bool { return indexOf(r.Judgements, j) >= 0 }

// ClassIndex returns the position of value in set, or -1.
func (r *Rules) ClassIndex(set, value string) int {
	for _, cs := range r.ClassSets {
		if cs.Name == set {
			return indexOf(cs.Values, value)
		}
	}
	return -1
}

// MaxScore is the highest valid score on chart.
func (r *Rules) MaxScore(chart model.Chart) int { return r.maxScore(chart) }

// CheckScore rejects scores that are out of range on every chart of this
// GPT. It needs no chart, so converters run it before resolving one.
func (r *Rules) CheckScore(score int) error {
	if score < 0 {
		return fmt.Errorf("%w: score %d is negative", ErrScoreOutOfRange, score)
	}
	if r.fixedMax > 0 && score > r.fixedMax {
		return fmt.Errorf("%w: score %d exceeds max %d", ErrScoreOutOfRange, score, r.fixedMax)
	}
	return nil
}

// Derive computes percent and grade from a raw score. A score outside
// [0, MaxScore] is rejected.
func (r *Rules) Derive(score int, chart model.Chart) (percent float64, grade string, err error) {
	maxScore := r.maxScore(chart)
	if score < 0 {
		return 0, "", fmt.Errorf("%w: score %d is negative", ErrScoreOutOfRange, score)
	}
	if maxScore > 0 && score > maxScore {
		return 0, "", fmt.Errorf("%w: score %d exceeds max %d", ErrScoreOutOfRange, score, maxScore)
	}
	return r.percent(score, chart), r.grade(score, chart), nil
}

// Value runs the named algorithm.
func (r *Rules) Value(alg string, chart model.Chart, sd model.ScoreData) (float64, bool) {
	for _, a := range r.Algorithms {
		if a.Name == alg {
			return a.Value(chart, sd)
		}
	}
	return 0, false
}

// BetterLamp reports whether lamp a ranks above lamp b.
func (r *Rules) BetterLamp(a, b string) bool { return r.LampIndex(a) > r.LampIndex(b) }

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// floor2 truncates to two decimal places. The epsilon absorbs binary
// representation error so 16.65 does not truncate to 16.64.
func floor2(v float64) float64 {
	return math.Floor(v*100+1e-6) / 100
}
