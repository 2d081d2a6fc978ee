package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/store"
)

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []string
	failErr error
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.jobs = append(f.jobs, jobID)
	return nil
}

func validSpec() bib.ThesisSpec {
	return bib.ThesisSpec{
		Title:            "Machine Learning in Healthcare",
		Field:            "Computer Science",
		ResearchQuestion: "How does ML improve diagnostics?",
		CitationStyle:    bib.StyleAPA,
		TargetLength:     5000,
		LengthUnit:       bib.LengthUnitWords,
		Outline: []bib.OutlineChapter{
			{Number: "1", Title: "Introduction"},
			{Number: "2", Title: "Bibliography"},
		},
	}
}

func newManager(t *testing.T) (*Manager, *fakeQueue) {
	t.Helper()
	st, err := store.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	q := &fakeQueue{}
	return NewManager(st, q, nil), q
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*bib.ThesisSpec)
		wantErr string
	}{
		{"valid", func(s *bib.ThesisSpec) {}, ""},
		{"missing title", func(s *bib.ThesisSpec) { s.Title = "" }, "title"},
		{"missing research question", func(s *bib.ThesisSpec) { s.ResearchQuestion = "" }, "research question"},
		{"zero target", func(s *bib.ThesisSpec) { s.TargetLength = 0 }, "target length"},
		{"bad style", func(s *bib.ThesisSpec) { s.CitationStyle = "chicago" }, "citation style"},
		{"empty outline", func(s *bib.ThesisSpec) { s.Outline = nil }, "outline"},
		{"only non-content chapters", func(s *bib.ThesisSpec) {
			s.Outline = []bib.OutlineChapter{{Number: "1", Title: "Bibliography"}}
		}, "content chapters"},
		{"duplicate numbers", func(s *bib.ThesisSpec) {
			s.Outline = append(s.Outline, bib.OutlineChapter{Number: "1", Title: "Again"})
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := ValidateSpec(&spec)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateSpec() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateSpec() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateDefaultsLanguage(t *testing.T) {
	m, _ := newManager(t)
	job, err := m.Create(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if job.Spec.Language != "en" {
		t.Errorf("language = %q, want en", job.Spec.Language)
	}
	if job.Status != store.StatusDraft {
		t.Errorf("status = %q, want draft", job.Status)
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("draft job is queued and enqueued", func(t *testing.T) {
		m, q := newManager(t)
		job, _ := m.Create(ctx, validSpec())

		got, err := m.Submit(ctx, job.ID)
		if err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
		if got.Status != store.StatusQueued {
			t.Errorf("status = %q, want queued", got.Status)
		}
		if len(q.jobs) != 1 || q.jobs[0] != job.ID {
			t.Errorf("enqueued = %v", q.jobs)
		}
	})

	t.Run("resubmission while queued is rejected", func(t *testing.T) {
		m, _ := newManager(t)
		job, _ := m.Create(ctx, validSpec())
		if _, err := m.Submit(ctx, job.ID); err != nil {
			t.Fatalf("first Submit() error: %v", err)
		}
		if _, err := m.Submit(ctx, job.ID); !errors.Is(err, ErrAlreadySubmitted) {
			t.Errorf("second Submit() = %v, want ErrAlreadySubmitted", err)
		}
	})

	t.Run("enqueue failure rolls the record back", func(t *testing.T) {
		m, q := newManager(t)
		q.failErr = errors.New("redis down")
		job, _ := m.Create(ctx, validSpec())

		if _, err := m.Submit(ctx, job.ID); err == nil {
			t.Fatal("Submit() = nil, want error")
		}
		got, _ := m.Get(ctx, job.ID)
		if got.Status != store.StatusDraft {
			t.Errorf("status after failed enqueue = %q, want draft", got.Status)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		m, _ := newManager(t)
		if _, err := m.Submit(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Submit() = %v, want ErrNotFound", err)
		}
	})
}
