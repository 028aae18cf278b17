// Package extract mines what the user says during a call into companion
// memory.
//
// Extraction is heuristic and best-effort. Names and details are found by
// ordered lists of [Rule] values that can be swapped out without touching the
// memory store contract. [Extractor.Incremental] runs after every finalized
// user utterance; [Extractor.Finalize] runs once when the call ends and
// commits the summary, mood and call statistics.
//
// Only the user's speech is mined. A miss is never an error.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/pkg/memory"
)

// DefaultRelationshipStep is how many completed calls raise the relationship
// level by one.
const DefaultRelationshipStep = 5

// Sources reported to the facts-learned metric.
const (
	sourceIncremental = "incremental"
	sourceFinal       = "final"
	sourceTool        = "tool"
)

// Extractor writes what it learns into a [memory.Store]. It holds no
// per-call state and is safe for concurrent use.
type Extractor struct {
	store     memory.Store
	metrics   *observe.Metrics
	nameRules []Rule
	details   []Rule
	matcher   *nameMatcher
	step      int
}

// Option configures an [Extractor].
type Option func(*extractorConfig)

type extractorConfig struct {
	companionName string
	fuzzy         float64
	nameRules     []Rule
	details       []Rule
	step          int
	metrics       *observe.Metrics
}

// WithCompanionName sets the companion's own name, which is never accepted
// as the user's name.
func WithCompanionName(name string) Option {
	return func(c *extractorConfig) { c.companionName = name }
}

// WithFuzzyThreshold sets the Jaro-Winkler score at which a candidate counts
// as the companion's name. Default: 0.92.
func WithFuzzyThreshold(t float64) Option {
	return func(c *extractorConfig) { c.fuzzy = t }
}

// WithNameRules replaces the ordered name rules.
func WithNameRules(rules []Rule) Option {
	return func(c *extractorConfig) { c.nameRules = rules }
}

// WithDetailRules replaces the detail rules.
func WithDetailRules(rules []Rule) Option {
	return func(c *extractorConfig) { c.details = rules }
}

// WithRelationshipStep sets how many completed calls raise the relationship
// level. Values < 1 disable the step.
func WithRelationshipStep(n int) Option {
	return func(c *extractorConfig) { c.step = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *extractorConfig) { c.metrics = m }
}

// New creates an [Extractor] writing to store.
func New(store memory.Store, opts ...Option) *Extractor {
	cfg := extractorConfig{step: DefaultRelationshipStep}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.nameRules == nil {
		cfg.nameRules = NameRules()
	}
	if cfg.details == nil {
		cfg.details = DetailRules()
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	return &Extractor{
		store:     store,
		metrics:   cfg.metrics,
		nameRules: cfg.nameRules,
		details:   cfg.details,
		matcher:   newNameMatcher(cfg.companionName, cfg.fuzzy),
		step:      cfg.step,
	}
}

// Findings is what one incremental pass stored.
type Findings struct {
	// Name is the user name stored by this pass, if any.
	Name string
	// Facts are the texts of facts that were new.
	Facts []string
}

// Incremental runs the name and detail rules over one user utterance and
// stores what they find. A name is only stored when none is known yet.
func (e *Extractor) Incremental(ctx context.Context, companionID, utterance string) Findings {
	var f Findings
	if name, ok := e.ScanName(utterance); ok && e.storeName(ctx, companionID, name, sourceIncremental) {
		f.Name = name
		f.Facts = append(f.Facts, nameFactText(name))
	}
	f.Facts = append(f.Facts, e.storeFacts(ctx, companionID, e.ScanDetails(utterance), sourceIncremental)...)
	return f
}

// ScanName returns the first acceptable name in utterance, evaluating the
// name rules in order and every match of a rule left to right.
func (e *Extractor) ScanName(utterance string) (string, bool) {
	for _, r := range e.nameRules {
		for _, m := range r.Pattern.FindAllStringSubmatch(utterance, -1) {
			c, ok := r.Handle(m)
			if !ok || c.Kind != KindName || c.Name == "" {
				continue
			}
			if e.matcher.matches(c.Name) {
				continue
			}
			return c.Name, true
		}
	}
	return "", false
}

// ScanDetails evaluates every detail rule against utterance and returns the
// candidate facts in rule order.
func (e *Extractor) ScanDetails(utterance string) []memory.FactInput {
	var out []memory.FactInput
	for _, r := range e.details {
		for _, m := range r.Pattern.FindAllStringSubmatch(utterance, -1) {
			c, ok := r.Handle(m)
			if !ok || c.Kind != KindFact {
				continue
			}
			out = append(out, c.Fact)
		}
	}
	return out
}

// Remember stores a fact the model chose to keep, through the same
// deduplication path as extracted facts. It reports whether the fact was new.
func (e *Extractor) Remember(ctx context.Context, companionID string, fact memory.FactInput) (bool, error) {
	fact, err := fact.Normalize()
	if err != nil {
		return false, err
	}
	return len(e.storeFacts(ctx, companionID, []memory.FactInput{fact}, sourceTool)) == 1, nil
}

// Result is the outcome of [Extractor.Finalize].
type Result struct {
	Summary           memory.ConversationSummary
	Sentiment         Sentiment
	Topics            []string
	UserTurns         int
	Name              string
	Facts             []string
	RelationshipLevel int
}

// Finalize runs the end-of-call sweep over the whole transcript and commits
// it: a last-chance name scan, the detail rules, one summary, one emotional
// entry when the mood is not neutral, the call statistics and the
// relationship step. Assistant entries are ignored.
func (e *Extractor) Finalize(ctx context.Context, companionID string, transcript []memory.TranscriptEntry, duration time.Duration) Result {
	ctx, span := observe.StartCallSpan(ctx, "extract.Finalize", companionID)
	defer span.End()
	log := observe.CallLogger(ctx, companionID)

	var (
		res       Result
		userTexts []string
	)
	for _, entry := range transcript {
		if !entry.IsUser() {
			continue
		}
		if t := strings.TrimSpace(entry.Text); t != "" {
			userTexts = append(userTexts, t)
		}
	}
	res.UserTurns = len(userTexts)

	// ── Name ──────────────────────────────────────────────────────────────────
	for _, t := range userTexts {
		name, ok := e.ScanName(t)
		if !ok {
			continue
		}
		if e.storeName(ctx, companionID, name, sourceFinal) {
			res.Name = name
			res.Facts = append(res.Facts, nameFactText(name))
		}
		break
	}

	// ── Details ───────────────────────────────────────────────────────────────
	for _, t := range userTexts {
		res.Facts = append(res.Facts, e.storeFacts(ctx, companionID, e.ScanDetails(t), sourceFinal)...)
	}

	// ── Sentiment, topics, summary ────────────────────────────────────────────
	all := strings.Join(userTexts, " ")
	res.Sentiment = Classify(all)
	res.Topics = Topics(all)
	text := Summarize(res.UserTurns, res.Topics, res.Sentiment)

	var mood string
	if !res.Sentiment.Neutral() {
		mood = res.Sentiment.Mood
	}
	seconds := int(duration.Round(time.Second) / time.Second)
	sum, err := e.store.AppendSummary(ctx, companionID, memory.SummaryInput{
		DurationSeconds: max(seconds, 0),
		Text:            text,
		Mood:            mood,
		Topics:          res.Topics,
	})
	if err != nil {
		log.Warn("extract: append summary failed", "err", err)
		sum = memory.ConversationSummary{CompanionID: companionID, Text: text, Mood: mood, Topics: res.Topics}
	}
	res.Summary = sum

	if !res.Sentiment.Neutral() {
		if err := e.store.AppendEmotion(ctx, companionID, memory.EmotionInput{
			Mood:      res.Sentiment.Mood,
			Context:   text,
			Intensity: res.Sentiment.Intensity,
		}); err != nil {
			log.Warn("extract: append emotion failed", "err", err)
		}
	}
	if res.Sentiment.Anxious {
		res.Facts = append(res.Facts, e.storeFacts(ctx, companionID, []memory.FactInput{anxietyFact().Fact}, sourceFinal)...)
	}

	// ── Call statistics and relationship ──────────────────────────────────────
	if err := e.store.RecordCall(ctx, companionID, duration); err != nil {
		log.Warn("extract: record call failed", "err", err)
	}
	res.RelationshipLevel = e.stepRelationship(ctx, companionID)

	log.Info("call memory committed",
		"user_turns", res.UserTurns,
		"mood", res.Sentiment.Mood,
		"topics", res.Topics,
		"facts_added", len(res.Facts),
		"relationship_level", res.RelationshipLevel,
	)
	return res
}

// stepRelationship raises the level every e.step completed calls and
// returns the current level.
func (e *Extractor) stepRelationship(ctx context.Context, companionID string) int {
	rec, err := e.store.Record(ctx, companionID)
	if err != nil {
		observe.CallLogger(ctx, companionID).Warn("extract: read record failed", "err", err)
		return memory.MinRelationshipLevel
	}
	if e.step < 1 || rec.CallCount == 0 || rec.CallCount%e.step != 0 {
		return rec.RelationshipLevel
	}
	level, err := e.store.AdjustRelationshipLevel(ctx, companionID, 1)
	if err != nil {
		observe.CallLogger(ctx, companionID).Warn("extract: adjust relationship failed", "err", err)
		return rec.RelationshipLevel
	}
	return level
}

// storeName writes name unless a name is already known.
func (e *Extractor) storeName(ctx context.Context, companionID, name, source string) bool {
	current, err := e.store.UserName(ctx, companionID)
	if err != nil {
		observe.CallLogger(ctx, companionID).Warn("extract: read user name failed", "err", err)
		return false
	}
	if current != "" {
		return false
	}
	if err := e.store.SetUserName(ctx, companionID, name); err != nil {
		observe.CallLogger(ctx, companionID).Warn("extract: store user name failed", "err", err)
		return false
	}
	observe.CallLogger(ctx, companionID).Info("learned user name", "name", name, "source", source)
	e.storeFacts(ctx, companionID, []memory.FactInput{{
		Text:       nameFactText(name),
		Importance: memory.ImportanceHigh,
		Category:   memory.CategoryPersonal,
	}}, source)
	return true
}

// storeFacts appends facts and returns the texts that were new.
func (e *Extractor) storeFacts(ctx context.Context, companionID string, facts []memory.FactInput, source string) []string {
	var added []string
	for _, f := range facts {
		ok, err := e.store.AppendFact(ctx, companionID, f)
		if err != nil {
			observe.CallLogger(ctx, companionID).Warn("extract: append fact failed", "fact", f.Text, "err", err)
			continue
		}
		if ok {
			e.metrics.RecordFactLearned(ctx, source)
			added = append(added, f.Text)
		}
	}
	return added
}

func nameFactText(name string) string { return "Their name is " + name }
