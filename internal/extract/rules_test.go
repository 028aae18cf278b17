package extract_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/kindred/internal/extract"
	"github.com/MrWong99/kindred/pkg/memory"
)

func TestScanName(t *testing.T) {
	t.Parallel()
	e := extract.New(nil, extract.WithCompanionName("Ava"))

	tests := []struct {
		utterance string
		want      string
		ok        bool
	}{
		{"Hi, I'm Morgan", "Morgan", true},
		{"my name is morgan", "Morgan", true},
		{"You can call me jo", "Jo", true},
		{"Name's Riley.", "Riley", true},
		{"I am Priya and I live in Pune", "Priya", true},
		{"Hello, this is Sam", "Sam", true},
		{"Morgan.", "Morgan", true},
		{"MY NAME IS KAI", "Kai", true},
		{"I’m Zoë", "Zoë", true},

		{"I'm good, thanks", "", false},
		{"I'm really tired", "", false},
		{"Hello!", "", false},
		{"Okay", "", false},
		{"this is great", "", false},
		{"my name is X", "", false},
		{"my name is Abcdefghijklmnopqrstuvw", "", false},

		// Companion's own name, exact and fuzzy.
		{"Ava!", "", false},
		{"This is Ava", "", false},
		{"I'm Avaa", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			t.Parallel()
			got, ok := e.ScanName(tt.utterance)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ScanName(%q) = (%q, %v), want (%q, %v)", tt.utterance, got, ok, tt.want, tt.ok)
			}
		})
	}
}

// TestScanName_FallsThrough checks that a rejected match lets later rules
// try.
func TestScanName_FallsThrough(t *testing.T) {
	t.Parallel()
	e := extract.New(nil, extract.WithCompanionName("Ava"))

	tests := []struct {
		name      string
		utterance string
	}{
		{"next rule", "I'm Ava? No wait, this is Morgan"},
		{"later match of a rule", "I'm Happy to be here, I'm Morgan."},
		{"companion name first", "my name is Ava... no wait, my name is Morgan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := e.ScanName(tt.utterance)
			if !ok || got != "Morgan" {
				t.Errorf("ScanName(%q) = (%q, %v), want Morgan", tt.utterance, got, ok)
			}
		})
	}
}

func TestScanDetails(t *testing.T) {
	t.Parallel()
	e := extract.New(nil)

	tests := []struct {
		utterance string
		want      []string
	}{
		{"I work as a nurse at the hospital.", []string{"Works as a nurse at the hospital"}},
		{"I work at Google, it's fine", []string{"Works at Google"}},
		{"I work for my uncle", []string{"Works for my uncle"}},
		{"my job is teaching kids", []string{"Works as teaching kids"}},
		{"I'm an engineer", []string{"Works as an engineer"}},
		{"I'm a bit lost", nil},
		{"I live in Lisbon.", []string{"Lives in Lisbon"}},
		{"I'm from Brazil", []string{"Is from Brazil"}},
		{"I grew up in a small town", []string{"Grew up in a small town"}},
		{"I love hiking", []string{"Enjoys hiking"}},
		{"I like to paint", []string{"Enjoys paint"}},
		{"My hobbies are chess and sudoku", []string{"Enjoys chess and sudoku"}},
		{"I really enjoy long walks on the beach with my partner every single weekend",
			[]string{"Enjoys long walks on the beach with my partner"}},
		{"My dog is called biscuit", []string{"Has a dog named Biscuit"}},
		{"my cat's name is Mochi", []string{"Has a cat named Mochi"}},
		{"I love you", nil},
		{"I like it a lot", nil},
		{"I'm so nervous", []string{extract.AnxietyFactText}},
		{"Nothing much to say", nil},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, f := range e.ScanDetails(tt.utterance) {
				got = append(got, f.Text)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ScanDetails(%q) = %q, want %q", tt.utterance, got, tt.want)
			}
		})
	}
}

func TestScanDetails_Tiers(t *testing.T) {
	t.Parallel()
	e := extract.New(nil)

	tests := []struct {
		utterance string
		imp       memory.Importance
		cat       memory.Category
	}{
		{"I live in Oslo", memory.ImportanceMedium, memory.CategoryPersonal},
		{"I enjoy cooking", memory.ImportanceLow, memory.CategoryPreference},
		{"I've been anxious lately", memory.ImportanceHigh, memory.CategoryEmotion},
	}
	for _, tt := range tests {
		facts := e.ScanDetails(tt.utterance)
		if len(facts) != 1 {
			t.Fatalf("%q: got %d facts", tt.utterance, len(facts))
		}
		if facts[0].Importance != tt.imp || facts[0].Category != tt.cat {
			t.Errorf("%q: got %s/%s, want %s/%s", tt.utterance, facts[0].Importance, facts[0].Category, tt.imp, tt.cat)
		}
	}
}

func TestCustomRules(t *testing.T) {
	t.Parallel()
	e := extract.New(nil, extract.WithDetailRules(nil), extract.WithNameRules([]extract.Rule{}))
	if _, ok := e.ScanName("my name is Morgan"); ok {
		t.Error("empty name rule list still found a name")
	}
	if got := e.ScanDetails("I live in Lisbon"); len(got) == 0 {
		t.Error("nil detail rules should fall back to the defaults")
	}
}
