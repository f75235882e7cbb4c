package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"docfill/internal/models"
)

// Proposal describes one distinct placeholder token found in a document.
type Proposal struct {
	Name        string           `json:"name"`
	Placeholder string           `json:"placeholder"`
	Type        models.FieldType `json:"type"`
	Order       int              `json:"order"`
}

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[([A-Z_][A-Z0-9_]*)\]`),
	regexp.MustCompile(`\{([A-Z_][A-Z0-9_]*)\}`),
	regexp.MustCompile(`<([A-Z_][A-Z0-9_]*)>`),
}

// Discover finds bracketed upper-case tokens such as [NAME], {DATE} or
// <EMAIL>. Each distinct token is proposed once; all proposals share order
// zero so fields follow document position.
func Discover(content string) []Proposal {
	type hit struct {
		pos   int
		token string
		ident string
	}
	var hits []hit
	for _, re := range placeholderPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			hits = append(hits, hit{pos: m[0], token: content[m[0]:m[1]], ident: content[m[2]:m[3]]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]struct{})
	var out []Proposal
	for _, h := range hits {
		if _, ok := seen[h.token]; ok {
			continue
		}
		seen[h.token] = struct{}{}
		out = append(out, Proposal{
			Name:        TitleCase(h.ident),
			Placeholder: h.token,
			Type:        GuessType(h.ident),
		})
	}
	return out
}

// TitleCase turns START_DATE into "Start Date".
func TitleCase(ident string) string {
	parts := strings.FieldsFunc(ident, func(r rune) bool { return r == '_' || r == ' ' })
	for i, p := range parts {
		r := []rune(strings.ToLower(p))
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

// GuessType infers a field type from a placeholder identifier.
func GuessType(ident string) models.FieldType {
	upper := strings.ToUpper(ident)
	switch {
	case strings.Contains(upper, "DATE"), strings.Contains(upper, "TIME"):
		return models.FieldDate
	case strings.Contains(upper, "EMAIL"):
		return models.FieldEmail
	case strings.Contains(upper, "PHONE"), strings.Contains(upper, "TEL"):
		return models.FieldPhone
	case strings.Contains(upper, "ADDRESS"):
		return models.FieldAddress
	}
	for _, word := range []string{"AGE", "AMOUNT", "SALARY", "NUMBER"} {
		if strings.Contains(upper, word) {
			return models.FieldNumber
		}
	}
	return models.FieldText
}

// BuildFields expands proposals into one pending field per occurrence.
// Occurrences are located the way the renderer numbers them: longer
// tokens claim their text first. Proposals whose token does not occur are
// dropped. Fields are ordered by proposal order, then document position.
func BuildFields(documentID, content string, proposals []Proposal) []models.Field {
	distinct := make([]Proposal, 0, len(proposals))
	seen := make(map[string]struct{})
	for _, p := range proposals {
		if p.Placeholder == "" {
			continue
		}
		if _, ok := seen[p.Placeholder]; ok {
			continue
		}
		seen[p.Placeholder] = struct{}{}
		distinct = append(distinct, p)
	}
	byLength := make([]Proposal, len(distinct))
	copy(byLength, distinct)
	sort.SliceStable(byLength, func(i, j int) bool {
		return len(byLength[i].Placeholder) > len(byLength[j].Placeholder)
	})

	type occurrence struct {
		proposal Proposal
		pos      int
		index    int
	}
	masked := []byte(content)
	var found []occurrence
	for _, p := range byLength {
		text := string(masked)
		offset := 0
		for i := 0; ; i++ {
			at := strings.Index(text[offset:], p.Placeholder)
			if at < 0 {
				break
			}
			start := offset + at
			found = append(found, occurrence{proposal: p, pos: start, index: i})
			offset = start + len(p.Placeholder)
			for k := start; k < offset; k++ {
				masked[k] = 0
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].proposal.Order != found[j].proposal.Order {
			return found[i].proposal.Order < found[j].proposal.Order
		}
		return found[i].pos < found[j].pos
	})

	fields := make([]models.Field, 0, len(found))
	for i, o := range found {
		name := strings.TrimSpace(o.proposal.Name)
		if name == "" {
			name = TitleCase(strings.Trim(o.proposal.Placeholder, "[]{}<>"))
		}
		if o.index > 0 {
			name = fmt.Sprintf("%s (%d)", name, o.index+1)
		}
		typ := o.proposal.Type
		if typ == "" {
			typ = models.FieldText
		}
		fields = append(fields, models.Field{
			ID:              uuid.NewString(),
			DocumentID:      documentID,
			Name:            name,
			Placeholder:     o.proposal.Placeholder,
			OccurrenceIndex: o.index,
			Status:          models.FieldPending,
			Order:           i + 1,
			Type:            typ,
		})
	}
	return fields
}
