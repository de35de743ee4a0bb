package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engram-memory/engram/pkg/types"
)

// NoteResponse is a single candidate note decoded from an extraction response.
type NoteResponse struct {
	Content    string   `json:"content"`
	NoteType   string   `json:"note_type"`
	Confidence float64  `json:"confidence"`
	Mutability string   `json:"mutability"`
	Tags       []string `json:"tags,omitempty"`
}

type noteExtractionResponse struct {
	Notes []NoteResponse `json:"notes"`
}

// EnrichmentResponse is the decoded enrichment payload for one note.
type EnrichmentResponse struct {
	Tags     []string `json:"tags"`
	Keywords []string `json:"keywords"`
	Context  string   `json:"context"`
}

// RelationshipResponse is a single classified relationship.
type RelationshipResponse struct {
	NoteID    string  `json:"note_id"`
	Type      string  `json:"type"`
	Strength  float64 `json:"strength"`
	Reasoning string  `json:"reasoning"`
}

type relationshipClassificationResponse struct {
	Relationships []RelationshipResponse `json:"relationships"`
}

type queryExpansionResponse struct {
	Variants []string `json:"variants"`
}

type mergeResponse struct {
	Content string `json:"content"`
}

// SkippedNote records a candidate note dropped during parsing, with the
// reason, so the caller can log it.
type SkippedNote struct {
	Content string
	Reason  string
}

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text. LLMs add explanations and code fences despite
// instructions; this strips them before decoding.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}

// decodeObject decodes the first JSON object in jsonStr into v.
func decodeObject(jsonStr string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(extractJSON(jsonStr)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed JSON in LLM response: %w", err)
	}
	return nil
}

// ParseNoteResponse parses a note extraction response. Individual candidates
// with a bad type, mutability, confidence, or empty content are skipped and
// reported in the second return value. An error is returned only when the
// JSON itself is malformed or the notes key is missing.
func ParseNoteResponse(jsonStr string) ([]NoteResponse, []SkippedNote, error) {
	var resp noteExtractionResponse
	raw := extractJSON(jsonStr)
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&resp); err != nil {
		return nil, nil, fmt.Errorf("malformed JSON in extraction response: %w", err)
	}

	// A response without a notes key is indistinguishable from {"notes":null}
	// after decoding, so probe the raw object.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, nil, fmt.Errorf("malformed JSON in extraction response: %w", err)
	}
	if _, ok := probe["notes"]; !ok {
		return nil, nil, fmt.Errorf("extraction response missing notes key")
	}

	var valid []NoteResponse
	var skipped []SkippedNote
	for _, n := range resp.Notes {
		switch {
		case strings.TrimSpace(n.Content) == "":
			skipped = append(skipped, SkippedNote{Content: n.Content, Reason: "empty content"})
		case !types.IsValidNoteType(n.NoteType):
			skipped = append(skipped, SkippedNote{Content: n.Content, Reason: fmt.Sprintf("unknown note type %q", n.NoteType)})
		case n.Confidence < 0 || n.Confidence > 1:
			skipped = append(skipped, SkippedNote{Content: n.Content, Reason: fmt.Sprintf("confidence %.2f out of range", n.Confidence)})
		case !types.IsValidMutabilityClass(types.MutabilityClass(n.Mutability)):
			skipped = append(skipped, SkippedNote{Content: n.Content, Reason: fmt.Sprintf("unknown mutability %q", n.Mutability)})
		default:
			n.Content = strings.TrimSpace(n.Content)
			n.Tags = cleanStrings(n.Tags)
			valid = append(valid, n)
		}
	}
	return valid, skipped, nil
}

// cleanStrings trims entries and drops blanks, preserving order.
func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseEnrichmentResponse parses an enrichment response. It returns an error
// for malformed JSON; the caller applies per-field fallbacks on error.
func ParseEnrichmentResponse(jsonStr string) (*EnrichmentResponse, error) {
	var resp EnrichmentResponse
	if err := decodeObject(jsonStr, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseRelationshipResponse parses a relationship classification response.
// Entries with an unknown type or out-of-range strength are skipped; only
// malformed JSON is an error.
func ParseRelationshipResponse(jsonStr string) ([]RelationshipResponse, error) {
	var resp relationshipClassificationResponse
	if err := decodeObject(jsonStr, &resp); err != nil {
		return nil, err
	}

	var valid []RelationshipResponse
	for _, r := range resp.Relationships {
		if r.NoteID == "" {
			continue
		}
		if !types.IsValidRelationshipType(r.Type) {
			continue
		}
		if r.Strength < 0 || r.Strength > 1 {
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// ParseQueryVariants parses a query expansion response into variant strings.
// Blank variants are dropped.
func ParseQueryVariants(jsonStr string) ([]string, error) {
	var resp queryExpansionResponse
	if err := decodeObject(jsonStr, &resp); err != nil {
		return nil, err
	}
	var variants []string
	for _, v := range resp.Variants {
		v = strings.TrimSpace(v)
		if v != "" {
			variants = append(variants, v)
		}
	}
	return variants, nil
}

// ParseMergeResponse parses a consolidation merge response into the merged
// note content. An empty content field is an error.
func ParseMergeResponse(jsonStr string) (string, error) {
	var resp mergeResponse
	if err := decodeObject(jsonStr, &resp); err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("merge response has empty content")
	}
	return content, nil
}
