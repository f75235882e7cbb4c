package fill

import (
	"sort"
	"strings"

	"docfill/internal/models"
)

type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentField SegmentKind = "field"
)

// Segment is one run of the rendered document. Text segments carry literal
// document text; field segments carry the display value of one field.
// Consumers escape Text before embedding it in markup.
type Segment struct {
	Kind    SegmentKind        `json:"kind"`
	Text    string             `json:"text"`
	FieldID string             `json:"fieldId,omitempty"`
	Status  models.FieldStatus `json:"status,omitempty"`
}

// Skip records a field whose occurrence could not be located.
type Skip struct {
	FieldID         string `json:"fieldId"`
	Placeholder     string `json:"placeholder"`
	OccurrenceIndex int    `json:"occurrenceIndex"`
	Found           int    `json:"found"`
	Reason          string `json:"reason"`
}

const (
	skipEmptyPlaceholder = "empty placeholder"
	skipOutOfRange       = "occurrence index out of range"
	skipDuplicate        = "occurrence already claimed"
)

type Preview struct {
	Segments []Segment `json:"segments"`
	Skipped  []Skip    `json:"skipped,omitempty"`
}

// Text flattens the preview to plain text: filled fields show their value,
// pending ones their placeholder.
func (p Preview) Text() string {
	var b strings.Builder
	for _, s := range p.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Pending returns how many field markers in the preview are still pending.
func (p Preview) Pending() int {
	n := 0
	for _, s := range p.Segments {
		if s.Kind == SegmentField && s.Status != models.FieldFilled {
			n++
		}
	}
	return n
}

// run is a working piece of the document. Literal runs are still eligible
// for matching; marker runs are never rescanned.
type run struct {
	literal bool
	text    string
	seg     Segment
}

// Render places every field at its own occurrence of its placeholder.
// Occurrences are numbered over the original text: a placeholder is only
// searched for inside literal runs, so inserted values never shift or
// create occurrences. Longer placeholders are resolved first so a token
// that contains a shorter one keeps its text.
func Render(content string, fields []models.Field) Preview {
	var preview Preview
	runs := []run{{literal: true, text: content}}

	for _, group := range groupByPlaceholder(fields, &preview) {
		runs = substitute(runs, group, &preview)
	}

	for _, r := range runs {
		if r.literal {
			if r.text == "" {
				continue
			}
			if n := len(preview.Segments); n > 0 && preview.Segments[n-1].Kind == SegmentText {
				preview.Segments[n-1].Text += r.text
				continue
			}
			preview.Segments = append(preview.Segments, Segment{Kind: SegmentText, Text: r.text})
			continue
		}
		preview.Segments = append(preview.Segments, r.seg)
	}
	return preview
}

type placeholderGroup struct {
	placeholder string
	first       int
	fields      []models.Field
}

func groupByPlaceholder(fields []models.Field, preview *Preview) []placeholderGroup {
	index := make(map[string]int)
	var groups []placeholderGroup
	for i, f := range fields {
		if f.Placeholder == "" {
			preview.Skipped = append(preview.Skipped, Skip{
				FieldID:         f.ID,
				OccurrenceIndex: f.OccurrenceIndex,
				Reason:          skipEmptyPlaceholder,
			})
			continue
		}
		gi, ok := index[f.Placeholder]
		if !ok {
			gi = len(groups)
			index[f.Placeholder] = gi
			groups = append(groups, placeholderGroup{placeholder: f.Placeholder, first: i})
		}
		groups[gi].fields = append(groups[gi].fields, f)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].placeholder) != len(groups[j].placeholder) {
			return len(groups[i].placeholder) > len(groups[j].placeholder)
		}
		return groups[i].first < groups[j].first
	})
	for gi := range groups {
		sort.SliceStable(groups[gi].fields, func(i, j int) bool {
			return groups[gi].fields[i].OccurrenceIndex < groups[gi].fields[j].OccurrenceIndex
		})
	}
	return groups
}

// substitute performs one pass over runs for a single placeholder.
func substitute(runs []run, group placeholderGroup, preview *Preview) []run {
	p := group.placeholder
	found := 0
	for _, r := range runs {
		if r.literal {
			found += strings.Count(r.text, p)
		}
	}

	claimed := make(map[int]models.Field, len(group.fields))
	for _, f := range group.fields {
		switch {
		case f.OccurrenceIndex < 0 || f.OccurrenceIndex >= found:
			preview.Skipped = append(preview.Skipped, Skip{
				FieldID: f.ID, Placeholder: p, OccurrenceIndex: f.OccurrenceIndex, Found: found, Reason: skipOutOfRange,
			})
		default:
			if _, taken := claimed[f.OccurrenceIndex]; taken {
				preview.Skipped = append(preview.Skipped, Skip{
					FieldID: f.ID, Placeholder: p, OccurrenceIndex: f.OccurrenceIndex, Found: found, Reason: skipDuplicate,
				})
				continue
			}
			claimed[f.OccurrenceIndex] = f
		}
	}
	if len(claimed) == 0 {
		return runs
	}

	out := make([]run, 0, len(runs)+2*len(claimed))
	occurrence := 0
	for _, r := range runs {
		if !r.literal {
			out = append(out, r)
			continue
		}
		parts := strings.Split(r.text, p)
		var pending strings.Builder
		pending.WriteString(parts[0])
		for _, part := range parts[1:] {
			f, ok := claimed[occurrence]
			occurrence++
			if !ok {
				pending.WriteString(p)
				pending.WriteString(part)
				continue
			}
			out = append(out, run{literal: true, text: pending.String()})
			out = append(out, run{seg: marker(f)})
			pending.Reset()
			pending.WriteString(part)
		}
		out = append(out, run{literal: true, text: pending.String()})
	}
	return out
}

func marker(f models.Field) Segment {
	seg := Segment{Kind: SegmentField, FieldID: f.ID, Status: f.Status, Text: f.Placeholder}
	if f.Status == models.FieldFilled {
		seg.Text = ""
		if f.Value != nil {
			seg.Text = *f.Value
		}
	}
	return seg
}
