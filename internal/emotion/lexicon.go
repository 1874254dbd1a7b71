package emotion

import "slices"

// Neutral is the label used when no emotion is detected
const Neutral = "neutral"

// basicEmotions is the scoring order; earlier entries win ties
var basicEmotions = []string{
	"joy", "sadness", "anger", "fear", "surprise", "disgust", "trust", "anticipation", Neutral,
}

var complexEmotions = map[string][]string{
	"joy":          {"happiness", "excitement", "contentment", "pride", "optimism", "enthusiasm", "relief"},
	"sadness":      {"grief", "disappointment", "hopelessness", "regret", "melancholy", "loneliness"},
	"anger":        {"frustration", "irritation", "rage", "resentment", "indignation", "annoyance"},
	"fear":         {"anxiety", "worry", "terror", "dread", "panic", "nervousness", "apprehension"},
	"surprise":     {"amazement", "astonishment", "wonder", "shock", "bewilderment"},
	"disgust":      {"revulsion", "contempt", "distaste", "aversion", "loathing"},
	"trust":        {"admiration", "acceptance", "love", "respect", "devotion", "conviction"},
	"anticipation": {"interest", "expectancy", "hope", "vigilance", "curiosity"},
}

type contextRule struct {
	factor   string
	keywords []string
}

var contextRules = []contextRule{
	{"isolation", []string{"alone", "lonely"}},
	{"social connection", []string{"together", "friend", "family"}},
	{"perceived threat", []string{"danger", "threat", "scared"}},
	{"achievement", []string{"success", "achieve", "accomplish"}},
	{"failure or loss", []string{"fail", "loss", "lost"}},
	{"future prospects", []string{"hope", "future", "plan"}},
	{"past experiences", []string{"past", "memory", "remember"}},
}

// BasicEmotions returns the closed set of primary labels
func BasicEmotions() []string {
	return append([]string(nil), basicEmotions...)
}

// IsBasicEmotion reports whether label is one of BasicEmotions
func IsBasicEmotion(label string) bool {
	return slices.Contains(basicEmotions, label)
}
