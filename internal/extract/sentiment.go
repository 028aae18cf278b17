package extract

import (
	"regexp"
	"strings"
)

// Mood labels produced by [Classify].
const (
	MoodAnxious      = "anxious"
	MoodVeryPositive = "very positive"
	MoodPositive     = "positive"
	MoodDistressed   = "distressed"
	MoodConcerned    = "concerned"
	MoodNeutral      = "neutral"
)

// Sentiment is the aggregate mood of one call.
type Sentiment struct {
	Mood      string
	Intensity int
	Positive  int
	Negative  int
	Anxious   bool
}

// Neutral reports whether the sentiment warrants no emotional entry.
func (s Sentiment) Neutral() bool { return s.Mood == MoodNeutral }

var wordRE = regexp.MustCompile(`[\p{L}'’]+`)

var positiveWords = toSet(
	"happy", "glad", "great", "good", "love", "loved", "loving", "awesome",
	"amazing", "wonderful", "excited", "exciting", "fun", "nice", "fantastic",
	"excellent", "enjoy", "enjoyed", "proud", "grateful", "thankful",
	"beautiful", "perfect", "best", "relaxed", "calm", "joy", "cheerful",
	"lovely", "laugh", "laughed", "smile", "smiled", "better", "brilliant",
)

var negativeWords = toSet(
	"sad", "bad", "angry", "upset", "hate", "hated", "terrible", "awful",
	"horrible", "tired", "exhausted", "lonely", "depressed", "frustrated",
	"annoyed", "hurt", "miserable", "sick", "cry", "cried", "crying", "worst",
	"bored", "disappointed", "unhappy", "pain", "lost", "afraid", "scared",
	"worse", "difficult", "hard",
)

var anxietySet = toSet(anxietyWords...)

// Classify computes the aggregate sentiment of text. It is total: every
// input, including the empty string, yields exactly one mood.
func Classify(text string) Sentiment {
	var s Sentiment
	for _, w := range wordRE.FindAllString(strings.ToLower(text), -1) {
		w = strings.ReplaceAll(w, "’", "'")
		if _, ok := positiveWords[w]; ok {
			s.Positive++
		}
		if _, ok := negativeWords[w]; ok {
			s.Negative++
		}
		if _, ok := anxietySet[w]; ok {
			s.Anxious = true
		}
	}

	switch {
	case s.Anxious:
		s.Mood, s.Intensity = MoodAnxious, 7
	case s.Positive > s.Negative+2:
		s.Mood, s.Intensity = MoodVeryPositive, 8
	case s.Positive > s.Negative:
		s.Mood, s.Intensity = MoodPositive, 6
	case s.Negative > s.Positive+2:
		s.Mood, s.Intensity = MoodDistressed, 7
	case s.Negative > s.Positive:
		s.Mood, s.Intensity = MoodConcerned, 6
	default:
		s.Mood = MoodNeutral
	}
	return s
}
