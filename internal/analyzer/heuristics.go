package analyzer

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

var (
	positiveWords = []string{"bien", "bueno", "excelente", "genial", "gracias", "ok", "listo", "perfecto", "positivo"}
	negativeWords = []string{"mal", "problema", "fallo", "error", "retraso", "no", "negativo"}
)

// HeuristicSentiment scores keyword polarity over whole words. Keywords
// longer than three letters also match their plural ("problemas", "errores").
func HeuristicSentiment(text string) model.Sentiment {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	score := countHits(words, positiveWords) - countHits(words, negativeWords)
	switch {
	case score > 0:
		return model.SentimentPositive
	case score < 0:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

// countHits counts keywords present in words, each keyword at most once.
func countHits(words, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		for _, w := range words {
			if w == kw || (len(kw) > 3 && (w == kw+"s" || w == kw+"es")) {
				n++
				break
			}
		}
	}
	return n
}

// heuristicNextSteps proposes a single follow-up when the interaction carries
// a deadline.
func heuristicNextSteps(deadline *time.Time) []model.NextStep {
	if deadline == nil {
		return []model.NextStep{}
	}
	d := deadline.UTC().Format(time.RFC3339)
	return []model.NextStep{{Title: "Dar seguimiento antes de " + d, DueDate: d}}
}

func heuristicSummary(in *model.Interaction) string {
	channel := string(in.Channel)
	if channel == "" {
		channel = string(model.ChannelOther)
	}
	return fmt.Sprintf("Interacción %s con notas: %s", channel, truncateRunes(in.Notes, 160))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
