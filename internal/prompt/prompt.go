// Package prompt turns a companion's memory into model instructions.
//
// [Compile] renders the personalization block from a [memory.Context].
// [SelectGreeting] picks the literal opening line for the same situation, and
// [Instructions] assembles the full session instructions around a persona.
//
// Everything in this package is pure: no I/O, no side effects, safe for
// concurrent use.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/kindred/internal/persona"
	"github.com/MrWong99/kindred/pkg/memory"
)

// RememberToolName is the name of the tool the model can call to store a
// detail about the user.
const RememberToolName = "remember_user_detail"

// GreetingKind identifies which of the three memory situations a call is in.
type GreetingKind int

const (
	// FirstContact means the companion has never spoken to this user.
	FirstContact GreetingKind = iota
	// KnownName means the user has talked before and their name is stored.
	KnownName
	// Returning means the user has talked before but no name is stored.
	Returning
)

// String returns the kind's name.
func (k GreetingKind) String() string {
	switch k {
	case FirstContact:
		return "first_contact"
	case KnownName:
		return "known_name"
	case Returning:
		return "returning"
	default:
		return fmt.Sprintf("GreetingKind(%d)", int(k))
	}
}

// Greeting is the opening line the companion speaks verbatim.
type Greeting struct {
	Kind GreetingKind
	Line string
}

// KindOf classifies mc.
func KindOf(mc memory.Context) GreetingKind {
	switch {
	case mc.UserName != "":
		return KnownName
	case mc.HasHistory():
		return Returning
	default:
		return FirstContact
	}
}

// SelectGreeting returns the literal opening line for mc.
func SelectGreeting(mc memory.Context, companionName string) Greeting {
	kind := KindOf(mc)
	var line string
	switch kind {
	case KnownName:
		line = fmt.Sprintf("Hey %s! It's so good to hear from you again. How have you been?", mc.UserName)
	case Returning:
		line = "Hey, welcome back! It's great to talk again. I'm sorry, could you remind me of your name?"
	default:
		if companionName == "" {
			line = "Hi! It's really nice to meet you. What's your name?"
		} else {
			line = fmt.Sprintf("Hi! I'm %s. It's really nice to meet you. What's your name?", companionName)
		}
	}
	return Greeting{Kind: kind, Line: line}
}

// Compile renders the personalization block for mc.
//
// A user with a stored name gets the exact name, an instruction to use it in
// the first sentence, the relationship standing, known facts and recent
// conversations. A returning user without a name is asked for it again. A
// first meeting asks the model to learn the user's name and background.
func Compile(mc memory.Context) string {
	var sb strings.Builder

	switch KindOf(mc) {
	case KnownName:
		sb.WriteString("## What You Remember About The User\n")
		fmt.Fprintf(&sb, "The user's name is %s. Their name is exactly %q; do not change or shorten it.\n", mc.UserName, mc.UserName)
		fmt.Fprintf(&sb, "You MUST greet them by name (%s) in the first sentence of your first reply.\n", mc.UserName)
		writeStanding(&sb, mc)
		writeFacts(&sb, mc.Facts)
		writeSummaries(&sb, mc.Summaries)

	case Returning:
		sb.WriteString("## What You Remember About The User\n")
		sb.WriteString("You have talked with this user before, but you do not remember their name.\n")
		sb.WriteString("Warmly acknowledge that they came back, then apologize and ask for their name again.\n")
		writeStanding(&sb, mc)
		writeFacts(&sb, mc.Facts)
		writeSummaries(&sb, mc.Summaries)

	default:
		sb.WriteString("## First Meeting\n")
		sb.WriteString("This is the first time you are talking with this user. You know nothing about them yet.\n")
		sb.WriteString("Introduce yourself, ask for their name early on, and use it once they tell you.\n")
		sb.WriteString("Get to know them: ask about their day, their work, where they live and what they enjoy.\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func writeStanding(sb *strings.Builder, mc memory.Context) {
	if mc.CallCount > 0 {
		fmt.Fprintf(sb, "You have talked %s. Your relationship level is %d.\n", times(mc.CallCount), mc.RelationshipLevel)
	}
}

func writeFacts(sb *strings.Builder, facts []memory.LearnedFact) {
	if len(facts) == 0 {
		return
	}
	sb.WriteString("\nThings you know about them:\n")
	for _, f := range facts {
		fmt.Fprintf(sb, "- %s\n", f.Text)
	}
}

func writeSummaries(sb *strings.Builder, summaries []memory.ConversationSummary) {
	if len(summaries) == 0 {
		return
	}
	sb.WriteString("\nRecent conversations:\n")
	for _, s := range summaries {
		fmt.Fprintf(sb, "- %s: %s\n", s.OccurredAt.Format("Jan 2"), s.Text)
	}
}

func times(n int) string {
	if n == 1 {
		return "once before"
	}
	return fmt.Sprintf("%d times before", n)
}

// Options tune [Instructions].
type Options struct {
	// Tools adds the description of the memory tool.
	Tools bool
}

// Instructions assembles the full session instructions: who the companion
// is, what it remembers, how to speak and the exact opening line.
func Instructions(p persona.Persona, mc memory.Context, opts Options) string {
	var sb strings.Builder

	// ── Persona ───────────────────────────────────────────────────────────────
	fmt.Fprintf(&sb, "You are %s, a companion having a real-time voice call with the user.", p.Name)
	if b := strings.TrimSpace(p.Backstory); b != "" {
		sb.WriteString(" ")
		sb.WriteString(b)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&sb, "\nYour interests: %s.", strings.Join(p.Interests, ", "))
	}
	if len(p.Quirks) > 0 {
		fmt.Fprintf(&sb, "\nYour quirks: %s.", strings.Join(p.Quirks, ", "))
	}
	if s := strings.TrimSpace(p.SpeakingStyle); s != "" {
		fmt.Fprintf(&sb, "\nYour speaking style: %s.", s)
	}

	// ── Memory ────────────────────────────────────────────────────────────────
	sb.WriteString("\n\n")
	sb.WriteString(Compile(mc))

	// ── Voice style ───────────────────────────────────────────────────────────
	sb.WriteString("\n\n## How To Speak\n")
	sb.WriteString("- This is a spoken conversation. Keep replies short, one to three sentences.\n")
	sb.WriteString("- Sound natural and warm. No lists, markdown, emojis or stage directions.\n")
	sb.WriteString("- Ask one question at a time and let the user finish speaking.\n")
	sb.WriteString("- Never say you are an AI model unless the user asks directly.\n")

	if opts.Tools {
		fmt.Fprintf(&sb, "\n## Memory Tool\nWhen the user shares something worth remembering about themselves, call %s with a short third-person fact, for example \"Works as a nurse\".\n", RememberToolName)
	}

	// ── Opening ───────────────────────────────────────────────────────────────
	g := SelectGreeting(mc, p.Name)
	fmt.Fprintf(&sb, "\n## Opening\nStart the call by saying exactly: %q", g.Line)

	return sb.String()
}

// GreetingInstructions is the per-response instruction that makes the model
// speak line verbatim.
func GreetingInstructions(line string) string {
	return fmt.Sprintf("Say exactly this to open the call, nothing more: %q", line)
}
