package moderation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/metrics"
)

// Screener owns the current Filter and swaps in a rebuilt one on Reload.
// Readers never see a partially loaded vocabulary.
type Screener struct {
	current       atomic.Pointer[Filter]
	badPath       string
	technicalPath string
	static        *Vocabulary
	opts          []Option
	log           logrus.FieldLogger
}

// NewScreener loads the vocabulary files and builds the first Filter.
func NewScreener(badPath, technicalPath string, log logrus.FieldLogger, opts ...Option) *Screener {
	if log == nil {
		log = discardLogger()
	}
	s := &Screener{
		badPath:       badPath,
		technicalPath: technicalPath,
		opts:          append([]Option{WithLogger(log)}, opts...),
		log:           log.WithField("component", "screener"),
	}
	s.Reload()
	return s
}

// NewStaticScreener builds a Screener over an in-memory vocabulary. Reload
// rebuilds the filter from the same vocabulary.
func NewStaticScreener(vocab *Vocabulary, log logrus.FieldLogger, opts ...Option) *Screener {
	if log == nil {
		log = discardLogger()
	}
	s := &Screener{
		static: vocab,
		opts:   append([]Option{WithLogger(log)}, opts...),
		log:    log.WithField("component", "screener"),
	}
	s.Reload()
	return s
}

// Filter returns the filter currently in use.
func (s *Screener) Filter() *Filter {
	return s.current.Load()
}

// Reload re-reads the vocabulary files and atomically replaces the filter.
// In-flight calls finish on the filter they started with.
func (s *Screener) Reload() *Filter {
	vocab := s.static
	if vocab == nil {
		vocab = LoadVocabulary(s.badPath, s.technicalPath, s.log)
	}

	f := NewFilter(vocab, s.opts...)
	s.current.Store(f)
	metrics.VocabularyReloads.Inc()

	s.log.WithField("bad_words", len(vocab.BadWords())).Info("[screener] filter swapped")
	return f
}

// Check runs the current filter's Check and records metrics.
func (s *Screener) Check(text string) FilterResult {
	start := time.Now()
	res := s.Filter().Check(text)
	metrics.ScreeningLatency.Observe(time.Since(start).Seconds())
	metrics.ScreeningsTotal.WithLabelValues(stageLabel(res)).Inc()
	return res
}

// Screen runs the current filter's Screen and records metrics.
func (s *Screener) Screen(ctx context.Context, text string) Verdict {
	start := time.Now()
	v := s.Filter().Screen(ctx, text)
	metrics.ScreeningLatency.Observe(time.Since(start).Seconds())
	metrics.ScreeningsTotal.WithLabelValues(stageLabel(v.FilterResult)).Inc()

	if v.Escalated {
		switch {
		case v.Toxicity == nil:
			metrics.EscalationsTotal.WithLabelValues("unavailable").Inc()
		case v.Toxicity.IsToxic:
			metrics.EscalationsTotal.WithLabelValues("toxic").Inc()
		default:
			metrics.EscalationsTotal.WithLabelValues("clean").Inc()
		}
	}
	return v
}

func stageLabel(res FilterResult) string {
	if res.Reason == "" {
		return "clean"
	}
	return res.Reason
}
