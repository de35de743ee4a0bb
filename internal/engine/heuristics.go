package engine

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"

	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

var negationPattern = regexp.MustCompile(`\b(not|no longer|never|stopped|quit|dislikes?|hates?)\b`)

var causalPattern = regexp.MustCompile(`\b(because|since|therefore|so that|as a result)\b`)

// heuristicRelationships produces relationship guesses without the LLM.
// Edge strength is taken from the vector similarity score. The type comes
// from cheap lexical signals: opposing negation polarity on overlapping
// content suggests a contradiction, and causal markers suggest
// follows_from. Everything else is related_to.
func heuristicRelationships(ctx context.Context, store storage.Store, note *types.AtomicNote, neighbours []storage.VectorHit) []llm.RelationshipResponse {
	var out []llm.RelationshipResponse
	for _, h := range neighbours {
		neighbour, err := store.GetNote(ctx, h.NoteID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("[graph] heuristic lookup failed for note %s: %v", h.NoteID, err)
			}
			continue
		}
		relType := classifyHeuristically(note, neighbour)
		out = append(out, llm.RelationshipResponse{
			NoteID:    neighbour.ID,
			Type:      relType,
			Strength:  clamp01(h.Score),
			Reasoning: "similarity heuristic",
		})
	}
	return out
}

func classifyHeuristically(note, neighbour *types.AtomicNote) string {
	a := strings.ToLower(note.Content)
	b := strings.ToLower(neighbour.Content)

	if negationPattern.MatchString(a) != negationPattern.MatchString(b) && wordOverlap(a, b) >= 0.5 {
		return types.RelContradicts
	}
	if causalPattern.MatchString(a) {
		return types.RelFollowsFrom
	}
	if note.NoteType == types.NoteNamespaceEvent && neighbour.NoteType != types.NoteNamespaceEvent {
		return types.RelContextFor
	}
	return types.RelRelatedTo
}

// wordOverlap reports the fraction of the shorter note's words present in
// the longer one.
func wordOverlap(a, b string) float64 {
	wa := fieldSet(a)
	wb := fieldSet(b)
	if len(wa) > len(wb) {
		wa, wb = wb, wa
	}
	if len(wa) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(wa))
}

func fieldSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
