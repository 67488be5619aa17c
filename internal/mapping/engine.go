// Package mapping builds and maintains the source-column to target-field
// bindings for one (session, entity type) pair. Suggestions and template
// application are advisory: an unmatched field is simply left unmapped and
// surfaces later through validation, not here.
package mapping

import (
	"fmt"
	"strings"
	"time"

	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/schema"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// SuggestMappings proposes a source column index for each target field of the
// entity type. Exact normalized matches win, then alias matches, then
// substring containment in either direction. First match wins per field.
func SuggestMappings(headers []string, entity models.EntityType) map[string]int {
	fields, err := schema.Fields(entity)
	if err != nil {
		return map[string]int{}
	}

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = normalizeHeader(h)
	}

	suggestions := make(map[string]int)
	taken := make(map[int]bool)
	for _, field := range fields {
		candidates := append([]string{field.Name}, field.Aliases...)
		idx := -1
		for _, cand := range candidates {
			if idx = findHeader(normalized, normalizeHeader(cand), taken); idx >= 0 {
				break
			}
		}
		if idx >= 0 {
			suggestions[field.Name] = idx
			taken[idx] = true
		}
	}
	return suggestions
}

// findHeader matches a candidate name against normalized headers: equality
// first, then substring containment either direction.
func findHeader(normalized []string, cand string, taken map[int]bool) int {
	if cand == "" {
		return -1
	}
	for i, h := range normalized {
		if !taken[i] && h == cand {
			return i
		}
	}
	// Substring containment over-matches on very short names ("id" is inside
	// "paid"), so those only match exactly.
	if len(cand) < 3 {
		return -1
	}
	for i, h := range normalized {
		if taken[i] || h == "" {
			continue
		}
		if strings.Contains(h, cand) || strings.Contains(cand, h) {
			return i
		}
	}
	return -1
}

// InferDataType derives a field's semantic type from its name. Required-ness
// is never inferred: it comes strictly from the schema registry.
func InferDataType(fieldName string) models.DataType {
	lower := strings.ToLower(fieldName)
	switch {
	case strings.Contains(lower, "email"):
		return models.DataTypeEmail
	case strings.Contains(lower, "phone"):
		return models.DataTypePhone
	case strings.Contains(lower, "date"):
		return models.DataTypeDate
	case strings.Contains(lower, "amount"), strings.Contains(lower, "budget"), strings.Contains(lower, "id"):
		return models.DataTypeNumber
	default:
		return models.DataTypeString
	}
}

// NewSet builds the initial mapping set for an uploaded file: one
// FieldMapping per registry field, bound where a suggestion exists.
func NewSet(sessionID string, entity models.EntityType, headers []string, suggestions map[string]int) (*models.MappingSet, error) {
	fields, err := schema.Fields(entity)
	if err != nil {
		return nil, err
	}
	mappings := make([]models.FieldMapping, 0, len(fields))
	for _, field := range fields {
		fm := models.FieldMapping{
			TargetField: field.Name,
			DataType:    field.DataType,
			Required:    field.Required,
		}
		if idx, ok := suggestions[field.Name]; ok && idx >= 0 && idx < len(headers) {
			fm.SourceField = headers[idx]
		}
		mappings = append(mappings, fm)
	}
	return &models.MappingSet{
		SessionID:  sessionID,
		EntityType: entity,
		Version:    1,
		Mappings:   mappings,
		UpdatedAt:  time.Now(),
	}, nil
}

// ApplyTemplate seeds a mapping set from a saved template by matching each
// template entry's source field against the current headers: lowercase
// substring containment in either direction, first match wins. When no
// substring match exists, a ranked fuzzy match is tried before giving up.
// Non-matches leave the target unmapped.
func ApplyTemplate(set *models.MappingSet, tpl *models.MappingTemplate, headers []string) {
	lowered := make([]string, len(headers))
	for i, h := range headers {
		lowered[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, entry := range tpl.Mappings {
		if entry.SourceField == "" {
			continue
		}
		fm, ok := set.Get(entry.TargetField)
		if !ok {
			continue
		}
		want := strings.ToLower(strings.TrimSpace(entry.SourceField))
		matched := ""
		for i, h := range lowered {
			if h == "" {
				continue
			}
			if strings.Contains(h, want) || strings.Contains(want, h) {
				matched = headers[i]
				break
			}
		}
		if matched == "" {
			if ranks := fuzzy.RankFindNormalizedFold(want, lowered); len(ranks) > 0 {
				best := ranks[0]
				for _, r := range ranks[1:] {
					if r.Distance < best.Distance {
						best = r
					}
				}
				matched = headers[best.OriginalIndex]
			}
		}
		if matched != "" {
			fm.SourceField = matched
			if entry.Transformation != "" {
				fm.Transformation = entry.Transformation
			}
		}
	}
	set.Version++
	set.UpdatedAt = time.Now()
}

// SetMapping binds a target field to a source column, optionally overriding
// data type and transformation. Binding a source field that is already bound
// to a different target is allowed here; validation surfaces it as a
// duplicate-mapping warning rather than this call rejecting it.
func SetMapping(set *models.MappingSet, targetField, sourceField string, dataType models.DataType, transformation models.Transformation) error {
	fm, ok := set.Get(targetField)
	if !ok {
		return fmt.Errorf("unknown target field %q for %s", targetField, set.EntityType)
	}
	if dataType != "" && !models.ValidDataTypes[dataType] {
		return fmt.Errorf("unknown data type %q", dataType)
	}
	if transformation != "" && !models.ValidTransformations[transformation] {
		return fmt.Errorf("unknown transformation %q", transformation)
	}
	fm.SourceField = sourceField
	if dataType != "" {
		fm.DataType = dataType
	}
	fm.Transformation = transformation
	set.Version++
	set.UpdatedAt = time.Now()
	return nil
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
