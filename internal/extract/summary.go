package extract

import (
	"strings"
)

// maxSummaryTopics is how many topics are named in a summary sentence.
const maxSummaryTopics = 3

// Summarize renders the one-line summary of a call with userTurns user
// utterances.
func Summarize(userTurns int, topics []string, s Sentiment) string {
	var sb strings.Builder
	switch {
	case userTurns <= 2:
		sb.WriteString("Had a brief exchange")
	case userTurns <= 5:
		sb.WriteString("Had a short conversation")
	case userTurns <= 10:
		sb.WriteString("Had a good conversation")
	default:
		sb.WriteString("Had an extended conversation")
	}

	if len(topics) > maxSummaryTopics {
		topics = topics[:maxSummaryTopics]
	}
	switch len(topics) {
	case 0:
	case 1:
		sb.WriteString(" about " + topics[0])
	default:
		sb.WriteString(" about " + strings.Join(topics[:len(topics)-1], ", ") + " and " + topics[len(topics)-1])
	}
	sb.WriteString(".")

	if s.Mood != "" && !s.Neutral() {
		sb.WriteString(" The user seemed " + s.Mood + ".")
	}
	return sb.String()
}
