package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/kindred/pkg/memory"
)

// Kind tells what a [Candidate] carries.
type Kind int

const (
	// KindName is a candidate user name.
	KindName Kind = iota
	// KindFact is a candidate learned fact.
	KindFact
)

// Candidate is what a [Rule] produced from one match.
type Candidate struct {
	Kind Kind
	// Name is set for KindName, already title-cased.
	Name string
	// Fact is set for KindFact.
	Fact memory.FactInput
}

// Rule is one extraction heuristic. Handle receives the submatches of
// Pattern and reports whether they yield a candidate.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Handle  func(match []string) (Candidate, bool)
}

// Name length bounds, in characters.
const (
	minNameLen = 2
	maxNameLen = 20
)

// maxObjectLen bounds the captured object of a detail rule, in characters.
const maxObjectLen = 40

const (
	apos     = `['’]`
	nameTok  = `([\p{L}][\p{L}'’-]*)`
	capTok   = `(\p{Lu}[\p{L}'’-]*)`
	objectTo = `([^.!?,;]+)`
)

// stopNames are tokens that look like names after "I'm" or on their own but
// are interjections, affirmatives or adjectives.
var stopNames = toSet(
	"hi", "hello", "hey", "yes", "yeah", "yep", "yup", "no", "nope", "nah",
	"ok", "okay", "sure", "fine", "good", "great", "well", "thanks", "thank",
	"sorry", "so", "just", "here", "back", "not", "really", "very", "happy",
	"sad", "tired", "excited", "bored", "busy", "doing", "going", "alright",
	"cool", "nice", "awesome", "hmm", "um", "uh", "oh", "wow", "bye",
	"goodbye", "morning", "afternoon", "evening", "night", "nothing", "right",
	"totally", "also", "ready", "glad", "sick", "hungry", "lonely",
	"stressed", "worried", "scared", "anxious", "nervous", "afraid", "home",
	"there", "listening", "actually", "maybe", "probably", "definitely",
	"absolutely", "exactly", "perfect", "amazing", "the", "a", "an", "me",
	"you", "it", "that", "this", "what", "who", "why", "how", "when", "where",
	"please", "welcome", "married", "single", "new", "old", "gonna", "trying",
	"calling", "curious", "interested", "english", "american", "british",
)

// pronouns are rejected as objects of detail rules.
var pronouns = toSet("you", "it", "that", "this", "them", "him", "her", "me")

// occupations are accepted after "I'm a/an".
var occupations = []string{
	"accountant", "analyst", "architect", "artist", "baker", "barista",
	"carpenter", "cashier", "chef", "consultant", "cook", "dentist",
	"designer", "developer", "doctor", "driver", "electrician", "engineer",
	"entrepreneur", "farmer", "firefighter", "freelancer", "journalist",
	"lawyer", "librarian", "manager", "mechanic", "musician", "nurse",
	"paramedic", "pharmacist", "photographer", "pilot", "plumber",
	"police officer", "professor", "programmer", "researcher", "salesperson",
	"scientist", "soldier", "student", "teacher", "therapist", "veterinarian",
	"waiter", "waitress", "writer",
}

var petKinds = []string{
	"dog", "cat", "puppy", "kitten", "bird", "parrot", "rabbit", "bunny",
	"hamster", "fish", "turtle", "horse", "guinea pig", "snake", "lizard",
}

// anxietyWords are the anxiety lexicon.
var anxietyWords = []string{
	"anxious", "anxiety", "nervous", "worried", "worrying", "panic",
	"panicking", "panicked", "stressed", "overwhelmed",
}

// NameRules returns the ordered name extraction rules. The first rule whose
// match is accepted wins for an utterance.
func NameRules() []Rule {
	name := func(m []string) (Candidate, bool) {
		n, ok := cleanName(m[1])
		return Candidate{Kind: KindName, Name: n}, ok
	}
	return []Rule{
		{Name: "my-name-is", Pattern: regexp.MustCompile(`(?i)\bmy name is ` + nameTok), Handle: name},
		{Name: "call-me", Pattern: regexp.MustCompile(`(?i)\bcall me ` + nameTok), Handle: name},
		{Name: "names", Pattern: regexp.MustCompile(`(?i)\bname` + apos + `s ` + nameTok), Handle: name},
		{Name: "i-am", Pattern: regexp.MustCompile(`(?i:\bi` + apos + `m|\bi am) ` + capTok), Handle: name},
		{Name: "this-is", Pattern: regexp.MustCompile(`(?i:\bthis is) ` + capTok), Handle: name},
		{Name: "bare", Pattern: regexp.MustCompile(`^\s*` + capTok + `[\s.!?,]*$`), Handle: name},
	}
}

// DetailRules returns the detail extraction rules. All of them are evaluated
// against every utterance.
func DetailRules() []Rule {
	return []Rule{
		{
			Name:    "occupation-as",
			Pattern: regexp.MustCompile(`(?i)\bi work as (an?) ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Works as "+strings.ToLower(m[1])+" ", m[2], memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "occupation-place",
			Pattern: regexp.MustCompile(`(?i)\bi work (at|for|in) ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Works "+strings.ToLower(m[1])+" ", m[2], memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "occupation-job",
			Pattern: regexp.MustCompile(`(?i)\bmy job is ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Works as ", m[1], memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "occupation-known",
			Pattern: regexp.MustCompile(`(?i)\bi(?:` + apos + `m| am) (an?) (` + alternation(occupations) + `)\b`),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Works as "+strings.ToLower(m[1])+" ", strings.ToLower(m[2]), memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "location-live",
			Pattern: regexp.MustCompile(`(?i)\bi live in ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Lives in ", m[1], memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "location-from",
			Pattern: regexp.MustCompile(`(?i)\bi(?:` + apos + `m| am) from ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Is from ", m[1], memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "location-grew-up",
			Pattern: regexp.MustCompile(`(?i)\bi grew up in ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Grew up in ", m[1], memory.ImportanceMedium, memory.CategoryPersonal)
			},
		},
		{
			Name:    "hobby",
			Pattern: regexp.MustCompile(`(?i)\bi (?:really )?(?:love|like|enjoy) (?:to )?` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Enjoys ", m[1], memory.ImportanceLow, memory.CategoryPreference)
			},
		},
		{
			Name:    "hobby-named",
			Pattern: regexp.MustCompile(`(?i)\bmy (?:hobby is|hobbies are) ` + objectTo),
			Handle: func(m []string) (Candidate, bool) {
				return objectFact("Enjoys ", m[1], memory.ImportanceLow, memory.CategoryPreference)
			},
		},
		{
			Name: "pet",
			Pattern: regexp.MustCompile(`(?i)\bmy (` + alternation(petKinds) + `)(?:` + apos +
				`s name is| is called| is named| named| called) ` + nameTok),
			Handle: func(m []string) (Candidate, bool) {
				n, ok := cleanName(m[2])
				if !ok {
					return Candidate{}, false
				}
				return fact("Has a "+strings.ToLower(m[1])+" named "+n, memory.ImportanceMedium, memory.CategoryPersonal), true
			},
		},
		{
			Name:    "anxiety",
			Pattern: regexp.MustCompile(`(?i)\b(?:` + alternation(anxietyWords) + `)\b`),
			Handle: func([]string) (Candidate, bool) {
				return anxietyFact(), true
			},
		},
	}
}

// AnxietyFactText is the fact stored when the user expresses anxiety.
const AnxietyFactText = "Experiences anxiety"

func anxietyFact() Candidate {
	return fact(AnxietyFactText, memory.ImportanceHigh, memory.CategoryEmotion)
}

func fact(text string, imp memory.Importance, cat memory.Category) Candidate {
	return Candidate{Kind: KindFact, Fact: memory.FactInput{Text: text, Importance: imp, Category: cat}}
}

// objectFact builds prefix+object after cleaning the object.
func objectFact(prefix, object string, imp memory.Importance, cat memory.Category) (Candidate, bool) {
	obj, ok := cleanObject(object)
	if !ok {
		return Candidate{}, false
	}
	return fact(prefix+obj, imp, cat), true
}

// clauseBreak ends a captured object where the user starts a new clause
// about themselves ("I live in Lisbon and I love surfing").
var clauseBreak = regexp.MustCompile(`(?i)\s+(?:and|but|because|so|though|although)\s+(?:i|i` + apos + `m|my)\b`)

// cleanObject trims a captured object, caps its length and rejects
// pronoun objects.
func cleanObject(s string) (string, bool) {
	if loc := clauseBreak.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxObjectLen {
		r := []rune(s)[:maxObjectLen]
		s = string(r)
		if i := strings.LastIndexByte(s, ' '); i > 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	first, _, _ := strings.Cut(strings.ToLower(s), " ")
	if _, bad := pronouns[first]; bad {
		return "", false
	}
	return s, true
}

// cleanName validates a name token and title-cases it.
func cleanName(s string) (string, bool) {
	s = strings.Trim(s, "'’-")
	n := utf8.RuneCountInString(s)
	if n < minNameLen || n > maxNameLen {
		return "", false
	}
	if _, stop := stopNames[strings.ToLower(s)]; stop {
		return "", false
	}
	return cases.Title(language.Und).String(s), true
}

func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
