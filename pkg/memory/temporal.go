package memory

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// temporal recall: backward-looking queries bias retrieval toward a date
// window over the session-event log, scored by recency rank, lexical overlap
// and (for "what did I say" phrasings) a user-role boost.

const (
	defaultLookbackDays = 7
	temporalEventLimit  = 50

	temporalRecencyWeight = 0.5
	temporalLexicalWeight = 0.4
	temporalRoleBoost     = 0.1
)

type dateWindow struct {
	From time.Time
	To   time.Time
}

var backwardMarkers = []string{
	"yesterday", "last time", "earlier", "before", "previously",
	"did we", "did i", "did you", "we discussed", "we talked",
	"昨天", "前天", "之前", "刚才", "上次", "聊过", "说过", "讨论过",
}

var selfReferenceMarkers = []string{
	"did i say", "what did i", "i said", "我说", "我提到", "我说过",
}

// temporalWindow detects backward-reference vocabulary and resolves the date
// window it implies. Returns ok=false for queries with no temporal cue.
func temporalWindow(query string, now time.Time) (dateWindow, bool) {
	q := strings.ToLower(query)

	matched := false
	for _, m := range backwardMarkers {
		if strings.Contains(q, m) {
			matched = true
			break
		}
	}
	if !matched {
		return dateWindow{}, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(q, "前天") || strings.Contains(q, "day before yesterday"):
		return dateWindow{From: today.AddDate(0, 0, -2), To: today.AddDate(0, 0, -1)}, true
	case strings.Contains(q, "昨天") || strings.Contains(q, "yesterday"):
		return dateWindow{From: today.AddDate(0, 0, -1), To: today}, true
	case strings.Contains(q, "今天") || strings.Contains(q, "today") || strings.Contains(q, "刚才"):
		return dateWindow{From: today, To: today.AddDate(0, 0, 1)}, true
	default:
		return dateWindow{From: today.AddDate(0, 0, -defaultLookbackDays), To: today.AddDate(0, 0, 1)}, true
	}
}

// wantsUserRole reports whether the query asks what the user themselves said.
func wantsUserRole(query string) bool {
	q := strings.ToLower(query)
	for _, m := range selfReferenceMarkers {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}

// collectTemporal runs the windowed session-event query and merges its
// candidates into the shared set with a recency/lexical/role-blended score.
func (r *Runtime) collectTemporal(ctx context.Context, query string, scope Scope, win dateWindow, mode string, merged map[string]SearchHit) {
	if !r.caps.eventsAvailable() {
		return
	}
	events, err := r.store.EventsInWindow(ctx, scope.Key, win.From, win.To, temporalEventLimit)
	if err != nil {
		r.noteStoreError(err, "temporal event window")
		return
	}
	if len(events) == 0 {
		return
	}

	boostUser := wantsUserRole(query)
	queryTokens := tokenize(query)

	// Events arrive newest first; rank position within the window drives the
	// recency component.
	for i, ev := range events {
		recency := 1.0 - float64(i)/float64(len(events))
		lexical := lexicalOverlap(queryTokens, ev.Content)

		score := temporalRecencyWeight*recency + temporalLexicalWeight*lexical
		if boostUser && ev.Role == "user" {
			score += temporalRoleBoost
		}

		hit := SearchHit{
			Path:     eventPath(scope.Key, ev.ConversationID, ev.ID),
			Score:    clampScore(score),
			Snippet:  snippetOf(ev.Content),
			Source:   SourceSession,
			Strategy: mode,
		}
		mergeHit(merged, hit.Path+"#0", hit)
	}
}

// tokenize lowercases and splits on non-letter/digit boundaries; CJK runs are
// additionally split into bigrams so overlap works without word boundaries.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, f := range fields {
		runes := []rune(f)
		cjk := true
		for _, r := range runes {
			if !unicode.Is(unicode.Han, r) {
				cjk = false
				break
			}
		}
		if cjk && len(runes) > 1 {
			for i := 0; i+1 < len(runes); i++ {
				tokens = append(tokens, string(runes[i:i+2]))
			}
		} else {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// lexicalOverlap is the fraction of query tokens appearing in content.
func lexicalOverlap(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	c := strings.ToLower(content)
	matched := 0
	for _, t := range queryTokens {
		if strings.Contains(c, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
