package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/folioworks/folio/internal/bib"
)

// MockDetector is a Detector for testing. Scores are returned in
// order; the last one repeats.
type MockDetector struct {
	Scores  []float64
	Flagged []string
	Err     error

	mu    sync.Mutex
	calls int
}

// Detect returns the next configured score.
func (m *MockDetector) Detect(ctx context.Context, text string) (*bib.DetectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	score := 100.0
	if len(m.Scores) > 0 {
		idx := m.calls
		if idx >= len(m.Scores) {
			idx = len(m.Scores) - 1
		}
		score = m.Scores[idx]
	}
	m.calls++
	return &bib.DetectionResult{
		HumanScore:       score,
		FlaggedSentences: m.Flagged,
		CheckedAt:        time.Now().UTC(),
	}, nil
}

// Calls returns the number of Detect calls so far.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockPlagiarismChecker is a PlagiarismChecker for testing.
type MockPlagiarismChecker struct {
	Scores  []float64
	Flagged []string
	Err     error

	mu    sync.Mutex
	calls int
}

// Check returns the next configured score.
func (m *MockPlagiarismChecker) Check(ctx context.Context, text string) (*bib.PlagiarismResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	score := 100.0
	if len(m.Scores) > 0 {
		idx := m.calls
		if idx >= len(m.Scores) {
			idx = len(m.Scores) - 1
		}
		score = m.Scores[idx]
	}
	m.calls++
	return &bib.PlagiarismResult{
		OriginalityScore: score,
		FlaggedSpans:     m.Flagged,
		CheckedAt:        time.Now().UTC(),
	}, nil
}

// Calls returns the number of Check calls so far.
func (m *MockPlagiarismChecker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var (
	_ Detector          = (*MockDetector)(nil)
	_ PlagiarismChecker = (*MockPlagiarismChecker)(nil)
)
