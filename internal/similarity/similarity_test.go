package similarity

import (
	"fmt"
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "exact_case_insensitive", a: "Red", b: "red", want: 1.0},
		{name: "exact_with_edge_space", a: " Red ", b: "RED", want: 1.0},
		{name: "containment", a: "Red", b: "Dark Red", want: 0.8},
		{name: "containment_reversed", a: "Dark Red", b: "red", want: 0.8},
		{name: "token_overlap_half", a: "Red", b: "Crimson Red", want: 0.65},
		{name: "token_overlap_full_set", a: "navy blue", b: "blue navy", want: 0.8},
		{name: "token_overlap_one_of_three", a: "light sky blue", b: "blue steel", want: 0.6},
		{name: "positional", a: "apple", b: "apply", want: 0.8},
		{name: "unrelated", a: "Red", b: "Blue", want: 0},
		{name: "both_empty", a: "", b: "", want: 1.0},
		{name: "one_empty", a: "", b: "red", want: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tc.a, tc.b); !approx(got, tc.want) {
				t.Fatalf("Score(%q, %q)=%v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestScore_CrimsonRedRange(t *testing.T) {
	t.Parallel()

	got := Score("Red", "Crimson Red")
	if got < 0.5 || got >= 0.8 {
		t.Fatalf("Score(Red, Crimson Red)=%v, want in [0.5, 0.8)", got)
	}
}

func TestScore_Idempotent(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{{"Red", "red"}, {"Red", "Dark Red"}, {"abc", "xyz"}, {"École", "ÉCOLE"}}
	for _, p := range pairs {
		first := Score(p[0], p[1])
		for i := 0; i < 3; i++ {
			if got := Score(p[0], p[1]); got != first {
				t.Fatalf("Score(%q, %q) not stable: %v then %v", p[0], p[1], first, got)
			}
		}
	}
}

func TestScore_UnicodeCaseFolding(t *testing.T) {
	t.Parallel()

	if got := Score("École", "ÉCOLE"); got != 1.0 {
		t.Fatalf("Score with case folding=%v, want 1", got)
	}
}

func TestScore_UnrelatedIsLow(t *testing.T) {
	t.Parallel()

	if got := Score("Red", "Turquoise"); got > RecommendThreshold {
		t.Fatalf("Score(Red, Turquoise)=%v, want <= %v", got, RecommendThreshold)
	}
}

func TestScoreOption_TakesMaxOfCodeAndLabel(t *testing.T) {
	t.Parallel()

	opt := Option{Code: "col_rouge", Label: "Red"}
	if got := ScoreOption("red", opt); got != 1.0 {
		t.Fatalf("ScoreOption label match=%v, want 1", got)
	}

	opt = Option{Code: "red", Label: "Rouge vif"}
	if got := ScoreOption("RED", opt); got != 1.0 {
		t.Fatalf("ScoreOption code match=%v, want 1", got)
	}
}

func TestRank_PartitionAndOrder(t *testing.T) {
	t.Parallel()

	opts := []Option{
		{Code: "green", Label: "Green"},
		{Code: "crimson_red", Label: "Crimson Red"},
		{Code: "blue", Label: "Blue"},
		{Code: "dark_red", Label: "Dark Red"},
		{Code: "red", Label: "Red"},
	}

	r := Rank("Red", opts)

	wantRec := []string{"red", "dark_red", "crimson_red"}
	if len(r.Recommended) != len(wantRec) {
		t.Fatalf("recommended=%v, want codes %v", r.Recommended, wantRec)
	}
	for i, code := range wantRec {
		if r.Recommended[i].Code != code {
			t.Fatalf("recommended[%d]=%q, want %q", i, r.Recommended[i].Code, code)
		}
		if !r.Recommended[i].Recommended {
			t.Fatalf("recommended[%d] not flagged", i)
		}
	}

	wantOthers := []string{"Blue", "Green"}
	if len(r.Others) != len(wantOthers) {
		t.Fatalf("others=%v, want labels %v", r.Others, wantOthers)
	}
	for i, label := range wantOthers {
		if r.Others[i].Label != label {
			t.Fatalf("others[%d]=%q, want %q", i, r.Others[i].Label, label)
		}
		if r.Others[i].Recommended {
			t.Fatalf("others[%d] flagged as recommended", i)
		}
	}

	if got := len(r.All()); got != len(opts) {
		t.Fatalf("All() len=%d, want %d", got, len(opts))
	}
}

func TestRank_TiesBrokenByLabel(t *testing.T) {
	t.Parallel()

	opts := []Option{
		{Code: "z", Label: "Red Zebra"},
		{Code: "a", Label: "Red Apple"},
	}
	r := Rank("Red", opts)
	if len(r.Recommended) != 2 {
		t.Fatalf("recommended=%v, want 2 entries", r.Recommended)
	}
	if r.Recommended[0].Label != "Red Apple" || r.Recommended[1].Label != "Red Zebra" {
		t.Fatalf("tie order=%v, want Red Apple then Red Zebra", r.Recommended)
	}
}

func TestRank_CapsRecommendedAtTen(t *testing.T) {
	t.Parallel()

	var opts []Option
	for i := 0; i < 15; i++ {
		opts = append(opts, Option{Code: fmt.Sprintf("red_%02d", i), Label: fmt.Sprintf("Red %02d", i)})
	}
	opts = append(opts, Option{Code: "x", Label: "Unrelated"})

	r := Rank("Red", opts)
	if len(r.Recommended) != MaxRecommended {
		t.Fatalf("recommended=%d, want %d", len(r.Recommended), MaxRecommended)
	}
	if len(r.Others) != 6 {
		t.Fatalf("others=%d, want 6", len(r.Others))
	}
	for i := 1; i < len(r.Others); i++ {
		if r.Others[i-1].Label > r.Others[i].Label {
			t.Fatalf("others not alphabetical at %d: %q > %q", i, r.Others[i-1].Label, r.Others[i].Label)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	t.Parallel()

	r := Rank("Red", nil)
	if len(r.Recommended) != 0 || len(r.Others) != 0 {
		t.Fatalf("Rank(nil)=%+v, want empty", r)
	}
}

func TestRank_OthersIgnoreCase(t *testing.T) {
	t.Parallel()

	opts := []Option{
		{Code: "b", Label: "Banana"},
		{Code: "a2", Label: "apple"},
		{Code: "c", Label: "cherry"},
		{Code: "a1", Label: "Apple"},
	}
	r := Rank("zzz", opts)
	want := []string{"a1", "a2", "b", "c"}
	if len(r.Recommended) != 0 || len(r.Others) != len(want) {
		t.Fatalf("ranking=%+v", r)
	}
	for i, code := range want {
		if r.Others[i].Code != code {
			t.Fatalf("others[%d]=%q, want %q (others=%v)", i, r.Others[i].Code, code, r.Others)
		}
	}
}

func TestCandidateList_Top(t *testing.T) {
	t.Parallel()

	c := CandidateList{{Score: 0.9}, {Score: 0.8}, {Score: 0.7}}
	if got := len(c.Top(2)); got != 2 {
		t.Fatalf("Top(2) len=%d, want 2", got)
	}
	if got := len(c.Top(10)); got != 3 {
		t.Fatalf("Top(10) len=%d, want 3", got)
	}
	if got := len(c.Top(-1)); got != 0 {
		t.Fatalf("Top(-1) len=%d, want 0", got)
	}
}
