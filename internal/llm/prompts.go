package llm

import (
	"fmt"
	"strings"
)

// SystemMemoryCurator is the system prompt shared by the write-path prompts.
const SystemMemoryCurator = "You are a long-term memory curator for a conversational assistant. " +
	"You respond with strict JSON only, never prose, never markdown."

// noteTypeDescriptions maps note namespaces to brief descriptions for prompts.
var noteTypeDescriptions = map[string]string{
	"preference": "A like, dislike, or standing choice of the user",
	"fact":       "A stable fact about the user or their world",
	"skill":      "Something the user knows how to do, with level if stated",
	"goal":       "Something the user wants to achieve",
	"event":      "A dated or datable occurrence",
	"relation":   "A connection between the user and a person or organization",
}

func noteTypeList() string {
	order := []string{"preference", "fact", "skill", "goal", "event", "relation"}
	var b strings.Builder
	for _, t := range order {
		fmt.Fprintf(&b, "- %s: %s\n", t, noteTypeDescriptions[t])
	}
	return b.String()
}

// NoteExtractionPrompt generates a strict JSON-only prompt for the first
// extraction pass: pull candidate memory notes out of a dialogue turn.
func NoteExtractionPrompt(transcript string) string {
	return fmt.Sprintf(`TASK: Extract atomic memory notes about the user from this conversation turn.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

A note is ATOMIC: one self-contained statement, understandable without the conversation.
Resolve pronouns. Skip assistant-only content, pleasantries, and hypotheticals.

NOTE TYPES (ONLY these 6):
%s
MUTABILITY (ONLY these 3):
- mutable: can change over time (most preferences, goals)
- immutable: fixed once true (birthplace, past events)
- temporal: true now but expected to lapse (current job, current address)

REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
Your response MUST have a "notes" key with an array value
Each note MUST have: content, note_type, confidence, mutability

Example structure (EXACT FORMAT REQUIRED):
{
  "notes": [
    {"content":"The user is allergic to shellfish","note_type":"fact","confidence":0.95,"mutability":"immutable"},
    {"content":"The user prefers window seats on flights","note_type":"preference","confidence":0.8,"mutability":"mutable"}
  ]
}

VALIDATION (STRICT):
1. Start with { - End with }
2. "notes" value must be an array (empty array if nothing memorable)
3. Types EXACTLY: preference|fact|skill|goal|event|relation
4. Mutability EXACTLY: mutable|immutable|temporal
5. Confidence 0.0-1.0
6. No extra fields, no null values, no trailing commas

CONVERSATION TURN:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"notes":[{"content":"...","note_type":"fact","confidence":0.9,"mutability":"mutable"}]}`, noteTypeList(), transcript)
}

// SecondPassPrompt generates the optional second extraction pass prompt:
// given the turn and the first pass's notes, surface facts the first pass
// missed. The output contains only the additional notes.
func SecondPassPrompt(transcript string, candidates []string) string {
	var list strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&list, "%d. %s\n", i+1, c)
	}
	return fmt.Sprintf(`TASK: Review candidate memory notes against the conversation turn and extract facts the first pass MISSED.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

REQUIRED JSON STRUCTURE:
{"notes":[{"content":"...","note_type":"fact","confidence":0.9,"mutability":"mutable","tags":["..."]}]}

Rules:
1. Output ONLY facts about the user that appear in the turn but in none of the candidate notes
2. Every output note states exactly one fact, understandable without the conversation
3. Do NOT repeat, rephrase, or correct the candidate notes
4. Types EXACTLY: preference|fact|skill|goal|event|relation
5. Mutability EXACTLY: mutable|immutable|temporal
6. Confidence 0.0-1.0
7. Empty array when nothing was missed

CONVERSATION TURN:
%s

CANDIDATE NOTES:
%s
RESPOND WITH ONLY THE JSON OBJECT (nothing else).`, transcript, list.String())
}

// EnrichmentPrompt generates a strict JSON-only prompt producing tags,
// keywords, and a contextual description for a single note.
func EnrichmentPrompt(content, noteType string) string {
	return fmt.Sprintf(`TASK: Enrich one memory note with retrieval metadata.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

REQUIRED JSON STRUCTURE:
{"tags":["..."],"keywords":["..."],"context":"..."}

Rules:
1. tags: 1-5 short lowercase topic labels
2. keywords: 1-8 search terms someone might use to find this note
3. context: one sentence situating the note (max 200 characters)
4. No extra fields, no null values

NOTE TYPE: %s
NOTE: %s

RESPOND WITH ONLY THE JSON OBJECT (nothing else).`, noteType, content)
}

// RelationshipCandidate is one existing note offered to the relationship
// classification prompt.
type RelationshipCandidate struct {
	ID      string
	Content string
}

// RelationshipClassificationPrompt generates a strict JSON-only prompt that
// classifies how a new note relates to each of a set of existing notes.
func RelationshipClassificationPrompt(newNote string, candidates []RelationshipCandidate) string {
	var list strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&list, "- id=%s: %s\n", c.ID, c.Content)
	}
	return fmt.Sprintf(`TASK: Classify the relationship between a NEW memory note and each EXISTING note.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

RELATIONSHIP TYPES (ONLY these 5):
- related_to: same topic, neither refines nor contradicts
- contradicts: the notes cannot both be true
- refines: the new note adds detail to the existing note
- context_for: the new note gives background for the existing note
- follows_from: the new note is a consequence of the existing note

REQUIRED JSON STRUCTURE:
{"relationships":[{"note_id":"...","type":"related_to","strength":0.7,"reasoning":"..."}]}

Rules:
1. Include ONLY pairs with a real relationship; unrelated pairs are omitted
2. Types EXACTLY: related_to|contradicts|refines|context_for|follows_from
3. strength 0.0-1.0, how strongly the relationship holds
4. reasoning: one short sentence
5. Empty array if nothing relates

NEW NOTE: %s

EXISTING NOTES:
%s
RESPOND WITH ONLY THE JSON OBJECT (nothing else).`, newNote, list.String())
}

// QueryExpansionPrompt generates a strict JSON-only prompt producing
// alternative phrasings of a retrieval query.
func QueryExpansionPrompt(query string, maxVariants int) string {
	return fmt.Sprintf(`TASK: Rephrase a memory search query to improve recall.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

REQUIRED JSON STRUCTURE:
{"variants":["...","..."]}

Rules:
1. At most %d variants
2. Each variant keeps the original intent but uses different wording
3. Do NOT include the original query
4. Empty array if the query cannot be usefully rephrased

QUERY: %s

RESPOND WITH ONLY THE JSON OBJECT (nothing else).`, maxVariants, query)
}

// MergePrompt generates a strict JSON-only prompt merging near-duplicate
// notes into one canonical statement.
func MergePrompt(contents []string) string {
	var list strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&list, "%d. %s\n", i+1, c)
	}
	return fmt.Sprintf(`TASK: Merge near-duplicate memory notes into ONE canonical note.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

REQUIRED JSON STRUCTURE:
{"content":"..."}

Rules:
1. The merged note states the shared fact once, keeping every detail present in any input
2. Resolve minor wording differences; do not invent information
3. One sentence if possible

NOTES TO MERGE:
%s
RESPOND WITH ONLY THE JSON OBJECT (nothing else).`, list.String())
}
