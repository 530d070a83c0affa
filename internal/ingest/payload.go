package ingest

import (
	"encoding/json"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

const (
	// maxPropertiesBytes caps the serialized property bag.
	maxPropertiesBytes = 10 * 1024
	// maxPropertiesDepth caps nesting of maps and arrays inside properties.
	maxPropertiesDepth = 10
)

// validateProperties enforces the payload limits at the ingestion boundary.
func validateProperties(props domain.Properties) error {
	if len(props) == 0 {
		return nil
	}

	b, err := json.Marshal(props)
	if err != nil {
		return domain.Validationf("properties not serializable: %v", err)
	}
	if len(b) > maxPropertiesBytes {
		return domain.Validationf("properties exceed %d bytes", maxPropertiesBytes)
	}

	for _, v := range props {
		if depthOf(v, 1) > maxPropertiesDepth {
			return domain.Validationf("properties nested deeper than %d levels", maxPropertiesDepth)
		}
	}
	return nil
}

func depthOf(v any, depth int) int {
	if depth > maxPropertiesDepth {
		return depth
	}
	deepest := depth
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if d := depthOf(child, depth+1); d > deepest {
				deepest = d
			}
		}
	case domain.Properties:
		for _, child := range t {
			if d := depthOf(child, depth+1); d > deepest {
				deepest = d
			}
		}
	case []any:
		for _, child := range t {
			if d := depthOf(child, depth+1); d > deepest {
				deepest = d
			}
		}
	}
	return deepest
}
