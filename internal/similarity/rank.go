package similarity

import "sort"

const (
	// RecommendThreshold is the score a candidate must exceed to be
	// recommended.
	RecommendThreshold = 0.3

	// MaxRecommended caps the recommended partition.
	MaxRecommended = 10
)

// Option is a destination value the operator can map to.
type Option struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Candidate is an Option scored against one origin value.
type Candidate struct {
	Option
	Score       float64 `json:"score"`
	Recommended bool    `json:"recommended"`
}

// Ranking is the UI ordering of candidates: recommended first, then the rest.
type Ranking struct {
	Recommended CandidateList `json:"recommended"`
	Others      CandidateList `json:"others"`
}

// All returns the recommended candidates followed by the others.
func (r Ranking) All() CandidateList {
	out := make(CandidateList, 0, len(r.Recommended)+len(r.Others))
	out = append(out, r.Recommended...)
	return append(out, r.Others...)
}

// ScoreOption scores value against both the option's code and its label and
// keeps the higher score.
func ScoreOption(value string, opt Option) float64 {
	s := Score(value, opt.Code)
	if l := Score(value, opt.Label); l > s {
		s = l
	}
	return s
}

// Rank scores every option against value and partitions the result.
//
// Candidates scoring above RecommendThreshold are recommended, highest score
// first with ties broken by label. At most MaxRecommended are kept there; any
// overflow joins the remaining candidates, which are ordered by label.
func Rank(value string, opts []Option) Ranking {
	scored := make(CandidateList, 0, len(opts))
	for _, o := range opts {
		scored = append(scored, Candidate{Option: o, Score: ScoreOption(value, o)})
	}
	sort.Sort(scored)

	var above, rest CandidateList
	for _, c := range scored {
		if c.Score > RecommendThreshold {
			above = append(above, c)
			continue
		}
		rest = append(rest, c)
	}

	var r Ranking
	r.Recommended = above.Top(MaxRecommended)
	for i := range r.Recommended {
		r.Recommended[i].Recommended = true
	}
	r.Others = append(rest, above[len(r.Recommended):]...)
	sort.SliceStable(r.Others, func(i, j int) bool {
		return lessByLabel(r.Others[i], r.Others[j])
	})
	return r
}

// CandidateList implements sort.Interface: score descending, then label,
// then code for determinism.
type CandidateList []Candidate

func (c CandidateList) Len() int      { return len(c) }
func (c CandidateList) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c CandidateList) Less(i, j int) bool {
	if c[i].Score != c[j].Score {
		return c[i].Score > c[j].Score
	}
	return lessByLabel(c[i], c[j])
}

// Top returns the first n candidates (all of them when n exceeds the length).
func (c CandidateList) Top(n int) CandidateList {
	if n < 0 {
		n = 0
	}
	if n >= len(c) {
		return c
	}
	return c[:n]
}

// lessByLabel orders alphabetically ignoring case, then by raw label, then
// by code.
func lessByLabel(a, b Candidate) bool {
	if fa, fb := normalize(a.Label), normalize(b.Label); fa != fb {
		return fa < fb
	}
	if a.Label != b.Label {
		return a.Label < b.Label
	}
	return a.Code < b.Code
}
