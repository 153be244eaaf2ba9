package apptype

import (
	"encoding/json"
	"strings"
)

// Update-field names accepted by CompareAndSwap and the conflict resolver.
// Metadata keys address individual top-level entries ("metadata.tag");
// contention is tracked per update key, with no deeper structural merging.
const (
	FieldContent    = "content"
	FieldEntityType = "entityType"
	FieldMetadata   = "metadata"
	MetadataPrefix  = "metadata."
)

// NormalizeField maps accepted aliases onto canonical update-field names.
func NormalizeField(name string) string {
	switch name {
	case "entity_type":
		return FieldEntityType
	default:
		return name
	}
}

// ValidUpdateField reports whether name addresses a mutable entity field.
func ValidUpdateField(name string) bool {
	switch name {
	case FieldContent, FieldEntityType, FieldMetadata:
		return true
	}
	return strings.HasPrefix(name, MetadataPrefix) && len(name) > len(MetadataPrefix)
}

// FieldValue returns the entity's current value for an update-field name.
// The second result is false when a metadata key is absent.
func FieldValue(e *KnowledgeEntity, field string) (any, bool) {
	switch field {
	case FieldContent:
		return e.Content, true
	case FieldEntityType:
		return e.EntityType, true
	case FieldMetadata:
		return e.Metadata, true
	}
	if strings.HasPrefix(field, MetadataPrefix) {
		if e.Metadata == nil {
			return nil, false
		}
		v, ok := e.Metadata[strings.TrimPrefix(field, MetadataPrefix)]
		return v, ok
	}
	return nil, false
}

// ValuesEqual compares two field values through their JSON encoding, which
// makes int/float and map-order differences from decoded payloads harmless.
func ValuesEqual(a, b any) bool {
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(aj) == string(bj)
}
