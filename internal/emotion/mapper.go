package emotion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL     = time.Hour
	defaultMaxEntries   = 5000
	defaultMaxTextBytes = 64 * 1024
)

var whitespace = regexp.MustCompile(`\s+`)

// Result is the outcome of an emotion analysis
type Result struct {
	PrimaryEmotion    string   `json:"primary_emotion"`
	Intensity         float64  `json:"intensity"`
	SecondaryEmotions []string `json:"secondary_emotions"`
	Confidence        float64  `json:"confidence"`
	ContextualFactors []string `json:"contextual_factors"`
}

// Analysis wraps a Result. Degraded results are the neutral fallback produced
// when analysis could not run; Reason says why.
type Analysis struct {
	Result
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

func (r Result) clone() Result {
	out := r
	out.SecondaryEmotions = append(make([]string, 0, len(r.SecondaryEmotions)), r.SecondaryEmotions...)
	out.ContextualFactors = append(make([]string, 0, len(r.ContextualFactors)), r.ContextualFactors...)
	return out
}

func neutralResult() Result {
	return Result{
		PrimaryEmotion:    Neutral,
		Intensity:         0.5,
		SecondaryEmotions: []string{},
		Confidence:        0.5,
		ContextualFactors: []string{},
	}
}

// Config tunes a Mapper
type Config struct {
	CacheTTL     time.Duration
	MaxEntries   int
	MaxTextBytes int
}

// Mapper classifies narrative text into emotions with a bounded result cache
type Mapper struct {
	cache        *cache.Cache
	maxEntries   int
	maxTextBytes int
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewMapper creates a mapper; zero config values take defaults
func NewMapper(cfg Config, log *zap.Logger, m *metrics.Metrics) *Mapper {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	return &Mapper{
		cache:        cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		maxEntries:   cfg.MaxEntries,
		maxTextBytes: cfg.MaxTextBytes,
		logger:       logger.OrNop(log).Named("emotion"),
		metrics:      m,
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emotion_" + hex.EncodeToString(sum[:])
}

// AnalyzeTextEmotion classifies text. It never fails: internal errors yield a
// degraded neutral result.
func (m *Mapper) AnalyzeTextEmotion(text string) (out Analysis) {
	key := cacheKey(text)
	if cached, ok := m.cache.Get(key); ok {
		m.metrics.CacheHit("emotion")
		return Analysis{Result: cached.(Result).clone()}
	}
	m.metrics.CacheMiss("emotion")

	defer func() {
		if r := recover(); r != nil {
			out = m.degrade(fmt.Sprintf("analysis panicked: %v", r))
		}
	}()

	if len(text) > m.maxTextBytes {
		return m.degrade(fmt.Sprintf("text exceeds %d bytes", m.maxTextBytes))
	}

	result := classify(text)
	m.store(key, result)
	return Analysis{Result: result.clone()}
}

// MapCharacterEmotion analyzes dialogue when given, otherwise the scene content
// adjusted by the character's traits.
func (m *Mapper) MapCharacterEmotion(c *story.Character, s *story.Scene, dialogue string) Analysis {
	if dialogue != "" {
		return m.AnalyzeTextEmotion(dialogue)
	}

	analysis := m.AnalyzeTextEmotion(s.Content)
	if analysis.Degraded || len(c.Traits) == 0 {
		return analysis
	}
	analysis.Result = AdjustForTraits(analysis.Result, c)
	return analysis
}

func (m *Mapper) degrade(reason string) Analysis {
	m.logger.Warn("Emotion analysis degraded", zap.String("reason", reason))
	m.metrics.Degraded()
	return Analysis{Result: neutralResult(), Degraded: true, Reason: reason}
}

// store inserts a result, flushing expired then all entries once the bound is hit
func (m *Mapper) store(key string, r Result) {
	if m.cache.ItemCount() >= m.maxEntries {
		m.cache.DeleteExpired()
		if m.cache.ItemCount() >= m.maxEntries {
			m.cache.Flush()
		}
	}
	m.cache.Set(key, r.clone(), cache.DefaultExpiration)
}

// classify scores text against the emotion lexicon
func classify(text string) Result {
	lower := strings.ToLower(text)

	scores := make(map[string]float64, len(basicEmotions))
	for _, base := range basicEmotions {
		if strings.Contains(lower, base) {
			scores[base]++
		}
		for _, variant := range complexEmotions[base] {
			if strings.Contains(lower, variant) {
				scores[base] += 0.5
			}
		}
	}

	primary := Neutral
	maxScore := 0.0
	for _, base := range basicEmotions {
		if scores[base] > maxScore {
			maxScore = scores[base]
			primary = base
		}
	}

	wordCount := float64(len(whitespace.Split(text, -1)))
	intensity := math.Min(1, maxScore/math.Sqrt(wordCount)*2)
	confidence := math.Min(1, 0.5+maxScore/5+wordCount/100)

	type scored struct {
		emotion string
		score   float64
	}
	var others []scored
	for _, base := range basicEmotions {
		if scores[base] > 0 && base != primary {
			others = append(others, scored{base, scores[base]})
		}
	}
	sort.SliceStable(others, func(i, j int) bool { return others[i].score > others[j].score })

	secondary := make([]string, 0, 2)
	for i := 0; i < len(others) && i < 2; i++ {
		secondary = append(secondary, others[i].emotion)
	}

	return Result{
		PrimaryEmotion:    primary,
		Intensity:         intensity,
		SecondaryEmotions: secondary,
		Confidence:        confidence,
		ContextualFactors: contextualFactors(lower),
	}
}

func contextualFactors(lower string) []string {
	factors := make([]string, 0)
	for _, rule := range contextRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				factors = append(factors, rule.factor)
				break
			}
		}
	}
	return factors
}

// AdjustForTraits returns a copy of r shaped by the character's personality
func AdjustForTraits(r Result, c *story.Character) Result {
	out := r.clone()

	if c.HasTrait("sensitive") || c.HasTrait("emotional") {
		out.Intensity = math.Min(1, out.Intensity*1.3)
	}
	if c.HasTrait("stoic") || c.HasTrait("reserved") {
		out.Intensity = math.Max(0, out.Intensity*0.7)
	}

	if c.HasTrait("optimistic") && out.PrimaryEmotion == "sadness" && out.Intensity < 0.7 {
		out.SecondaryEmotions = prepend(out.SecondaryEmotions, out.PrimaryEmotion)
		out.PrimaryEmotion = "hope"
	}
	if c.HasTrait("pessimistic") && out.PrimaryEmotion == "joy" && out.Intensity < 0.7 {
		out.SecondaryEmotions = prepend(out.SecondaryEmotions, "worry")
	}

	for _, t := range c.Traits {
		out.ContextualFactors = append(out.ContextualFactors, "character trait: "+t)
	}
	return out
}

// prepend puts label first, keeping at most two secondaries
func prepend(list []string, label string) []string {
	out := append([]string{label}, list...)
	if len(out) > 2 {
		out = out[:2]
	}
	return out
}
