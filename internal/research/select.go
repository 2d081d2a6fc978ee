package research

import (
	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/google/uuid"
)

// Select builds the final chapter-balanced source set from ranked,
// relevance-filtered candidates. Every content chapter gets its
// minimum share first, then the remaining budget is filled by score.
// Mandatory sources are always included, the result never contains a
// source twice, and every selected source gets a stable ID.
func Select(ranked []bib.Source, outline []bib.OutlineChapter, cfg config.PipelineConfig) []bib.Source {
	target := cfg.TargetSourceCount
	if target <= 0 {
		target = 25
	}
	perChapter := cfg.MinSourcesPerChapter

	selected := make([]bib.Source, 0, target)
	taken := make(map[string]bool)

	add := func(s bib.Source) {
		key := s.Key()
		if key == "" || taken[key] {
			return
		}
		taken[key] = true
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		selected = append(selected, s)
	}

	// Mandatory sources bypass the budget.
	for _, s := range ranked {
		if s.Mandatory {
			add(s)
		}
	}

	// Chapter minimums, in outline order. ranked is already sorted by
	// score, so the first matches per chapter are the best ones.
	for _, ch := range bib.ContentChapters(outline) {
		count := 0
		for _, s := range selected {
			if s.ChapterNumber == ch.Number {
				count++
			}
		}
		for _, s := range ranked {
			if count >= perChapter {
				break
			}
			if s.ChapterNumber != ch.Number || taken[s.Key()] {
				continue
			}
			add(s)
			count++
		}
	}

	// Fill the remaining budget globally by score.
	for _, s := range ranked {
		if len(selected) >= target {
			break
		}
		add(s)
	}

	return selected
}
