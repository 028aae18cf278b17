package extract

import "strings"

// MaxTopics bounds the topics recorded per call.
const MaxTopics = 5

type topic struct {
	name     string
	keywords map[string]struct{}
}

// vocabulary is ordered; topics are reported in this order.
var vocabulary = []topic{
	{"work", toSet("work", "job", "boss", "office", "career", "coworker", "coworkers", "colleague", "colleagues", "meeting", "shift", "project")},
	{"family", toSet("family", "mom", "mother", "dad", "father", "sister", "brother", "parents", "son", "daughter", "kids", "children", "grandma", "grandpa", "wife", "husband")},
	{"friends", toSet("friend", "friends", "buddy", "bestie", "roommate")},
	{"hobbies", toSet("hobby", "hobbies", "painting", "drawing", "knitting", "gardening", "cooking", "baking", "photography", "crafts")},
	{"music", toSet("music", "song", "songs", "band", "concert", "guitar", "piano", "sing", "singing", "album")},
	{"movies", toSet("movie", "movies", "film", "films", "cinema", "netflix", "show", "series")},
	{"books", toSet("book", "books", "novel", "reading", "read", "author", "library")},
	{"travel", toSet("travel", "traveling", "travelling", "trip", "vacation", "holiday", "flight", "abroad", "visit", "visiting")},
	{"food", toSet("food", "eat", "eating", "dinner", "lunch", "breakfast", "restaurant", "pizza", "coffee", "recipe")},
	{"sports", toSet("sport", "sports", "football", "soccer", "basketball", "tennis", "gym", "running", "workout", "game", "match", "team")},
	{"health", toSet("health", "doctor", "sick", "hospital", "sleep", "exercise", "therapy", "medicine", "pain", "tired")},
	{"school", toSet("school", "class", "classes", "exam", "exams", "homework", "teacher", "university", "college", "study", "studying")},
	{"pets", toSet("pet", "pets", "dog", "cat", "puppy", "kitten", "bird", "hamster", "rabbit")},
	{"relationships", toSet("girlfriend", "boyfriend", "partner", "dating", "date", "relationship", "crush", "married", "breakup")},
	{"games", toSet("games", "gaming", "videogame", "videogames", "playstation", "xbox", "nintendo", "chess", "puzzle")},
	{"nature", toSet("nature", "hiking", "hike", "forest", "mountains", "beach", "ocean", "park", "garden", "outdoors", "camping")},
}

// Topics returns up to [MaxTopics] topics mentioned in text, in vocabulary
// order.
func Topics(text string) []string {
	words := make(map[string]struct{})
	for _, w := range wordRE.FindAllString(strings.ToLower(text), -1) {
		words[w] = struct{}{}
	}
	var out []string
	for _, t := range vocabulary {
		for w := range t.keywords {
			if _, ok := words[w]; ok {
				out = append(out, t.name)
				break
			}
		}
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}
