package scoring

import (
	"math"

	"github.com/okian/scoreingest/internal/domain/model"
)

// Algorithm names.
const (
	AlgPercent      = "percent"
	AlgLampRating   = "ktLampRating"
	AlgRating       = "rating"
	ClassSetDan     = "dan"
	ClassSetColour  = "colour"
	chunithmMax     = 1010000
	chunithmPercent = 10000.0
)

var exLamps = []string{
	"NO PLAY", "FAILED", "ASSIST CLEAR", "EASY CLEAR", "CLEAR", "HARD CLEAR", "EX HARD CLEAR", "FULL COMBO",
}

var exGrades = []string{"F", "E", "D", "C", "B", "A", "AA", "AAA", "MAX-", "MAX"}

var iidxDans = ClassSet{Name: ClassSetDan, Values: []string{
	"7KYU", "6KYU", "5KYU", "4KYU", "3KYU", "2KYU", "1KYU",
	"1DAN", "2DAN", "3DAN", "4DAN", "5DAN", "6DAN", "7DAN", "8DAN", "9DAN", "10DAN",
	"CHUDEN", "KAIDEN",
}}

var chunithmColours = ClassSet{Name: ClassSetColour, Values: []string{
	"BLUE", "GREEN", "ORANGE", "RED", "PURPLE", "COPPER", "SILVER", "GOLD", "PLATINUM", "RAINBOW",
}}

var registry = buildRegistry()

func buildRegistry() map[model.GPT]*Rules {
	rules := []*Rules{
		exRules(model.NewGPT(model.GameIIDX, model.PlaytypeSP), []string{"BEGINNER", "NORMAL", "HYPER", "ANOTHER", "LEGGENDARIA"}, iidxDans),
		exRules(model.NewGPT(model.GameIIDX, model.PlaytypeDP), []string{"NORMAL", "HYPER", "ANOTHER", "LEGGENDARIA"}, iidxDans),
		exRules(model.NewGPT(model.GameBMS, model.Playtype7K), []string{"CHART"}),
		chunithmRules(),
	}
	m := make(map[model.GPT]*Rules, len(rules))
	for _, r := range rules {
		m[r.GPT] = r
	}
	return m
}

// exRules builds the rules shared by EX-score games (IIDX, BMS).
func exRules(gpt model.GPT, difficulties []string, classes ...ClassSet) *Rules {
	r := &Rules{
		GPT:              gpt,
		Difficulties:     difficulties,
		Lamps:            exLamps,
		Grades:           exGrades,
		Judgements:       []string{"pgreat", "great", "good", "bad", "poor"},
		DefaultAlgorithm: AlgPercent,
		ClassSets:        classes,
		maxScore:         func(c model.Chart) int { return c.Data.Notecount * 2 },
	}
	r.percent = func(score int, c model.Chart) float64 {
		maxScore := r.maxScore(c)
		if maxScore == 0 {
			return 0
		}
		return 100 * float64(score) / float64(maxScore)
	}
	r.grade = func(score int, c model.Chart) string { return exGrade(score, r.maxScore(c)) }
	r.Algorithms = []Algorithm{
		{Name: AlgPercent, Value: func(_ model.Chart, sd model.ScoreData) (float64, bool) { return sd.Percent, true }},
		{Name: AlgLampRating, Value: func(c model.Chart, sd model.ScoreData) (float64, bool) {
			if r.LampIndex(sd.Lamp) >= r.LampIndex("CLEAR") {
				return c.LevelNum, true
			}
			return 0, true
		}},
	}
	return r
}

// exGrade buckets an EX score in ninths of the maximum.
func exGrade(score, maxScore int) string {
	if maxScore <= 0 {
		return "F"
	}
	switch {
	case score >= maxScore:
		return "MAX"
	case score*18 >= maxScore*17:
		return "MAX-"
	}
	for k := 8; k >= 2; k-- {
		if score*9 >= maxScore*k {
			return exGrades[k-1]
		}
	}
	return "F"
}

var chunithmGradeBoundaries = []struct {
	name string
	min  int
}{
	{"SSS+", 1009000}, {"SSS", 1007500}, {"SS+", 1005000}, {"SS", 1000000},
	{"S+", 990000}, {"S", 975000}, {"AAA", 950000}, {"AA", 925000}, {"A", 900000},
	{"BBB", 800000}, {"BB", 700000}, {"B", 600000}, {"C", 500000}, {"D", 0},
}

func chunithmRules() *Rules {
	grades := make([]string, 0, len(chunithmGradeBoundaries))
	for i := len(chunithmGradeBoundaries) - 1; i >= 0; i-- {
		grades = append(grades, chunithmGradeBoundaries[i].name)
	}
	r := &Rules{
		GPT:              model.NewGPT(model.GameCHUNITHM, model.PlaytypeSingle),
		Difficulties:     []string{"BASIC", "ADVANCED", "EXPERT", "MASTER", "ULTIMA"},
		Lamps:            []string{"FAILED", "CLEAR", "FULL COMBO", "ALL JUSTICE", "ALL JUSTICE CRITICAL"},
		Grades:           grades,
		Judgements:       []string{"jcrit", "justice", "attack", "miss"},
		DistinctReplays:  true,
		DefaultAlgorithm: AlgRating,
		ClassSets:        []ClassSet{chunithmColours},
		maxScore:         func(model.Chart) int { return chunithmMax },
		fixedMax:         chunithmMax,
		percent:          func(score int, _ model.Chart) float64 { return float64(score) / chunithmPercent },
		grade: func(score int, _ model.Chart) string {
			for _, b := range chunithmGradeBoundaries {
				if score >= b.min {
					return b.name
				}
			}
			return "D"
		},
	}
	r.Algorithms = []Algorithm{
		{Name: AlgRating, Value: func(c model.Chart, sd model.ScoreData) (float64, bool) {
			return ChunithmRating(sd.Score, c.LevelNum), true
		}},
		{Name: AlgPercent, Value: func(_ model.Chart, sd model.ScoreData) (float64, bool) { return sd.Percent, true }},
	}
	return r
}

// ChunithmRating is the arcade's play rating for score on a chart of level lv.
func ChunithmRating(score int, lv float64) float64 {
	s := float64(score)
	var v float64
	switch {
	case score >= 1009000:
		v = lv + 2.15
	case score >= 1007500:
		v = lv + 2.0 + (s-1007500)/100*0.01
	case score >= 1005000:
		v = lv + 1.5 + (s-1005000)/50*0.01
	case score >= 1000000:
		v = lv + 1.0 + (s-1000000)/100*0.01
	case score >= 975000:
		v = lv + (s-975000)/250*0.01
	case score >= 925000:
		v = lv - 3.0 + (s-925000)*3/50000
	case score >= 900000:
		v = lv - 5.0 + (s-900000)*2/25000
	case score >= 800000:
		half := (lv - 5) / 2
		v = half + (s-800000)*half/100000
	case score >= 500000:
		v = ((lv - 5) / 2) * (s - 500000) / 300000
	}
	return math.Max(0, floor2(v))
}

// ColourForRating maps a CHUNITHM profile rating to its colour class.
func ColourForRating(rating float64) string {
	bounds := []float64{0, 4, 7, 10, 12, 13.25, 14.5, 15.25, 16, 17}
	colour := chunithmColours.Values[0]
	for i, b := range bounds {
		if rating >= b {
			colour = chunithmColours.Values[i]
		}
	}
	return colour
}
