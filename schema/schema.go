package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/podnet/podnet/model"
)

// Schema is the parsed service contract: the data classes of one service,
// each carrying its own access rules. A schema is built once per version
// and read-only afterwards, safe for concurrent use by in-flight requests.
type Schema struct {
	SchemaId  string
	ServiceId int

	// MemberId is the member owning the pod this schema is loaded in,
	// used to evaluate member-category access rules.
	MemberId uuid.UUID

	Classes map[string]SchemaDataItem

	publisherFactory PublisherFactory
}

type schemaDocument struct {
	SchemaId  string                            `json:"$id"`
	ServiceId int                               `json:"service_id"`
	Defs      map[string]map[string]interface{} `json:"$defs"`
}

// Load parses a schema document and builds the data class tree. Build
// errors are fatal at schema-load time, never at request time.
func Load(data []byte, memberId uuid.UUID, publisherFactory PublisherFactory) (schema *Schema, httpErr model.HttpError) {
	document := schemaDocument{}
	if err := json.Unmarshal(data, &document); err != nil {
		return schema, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Was not able to parse the schema document. Error: %v", err), RootError: err}
	}
	if len(document.Defs) == 0 {
		return schema, model.HttpError{Status: http.StatusBadRequest, Message: "Schema document does not define any data classes."}
	}

	schema = &Schema{
		SchemaId:         document.SchemaId,
		ServiceId:        document.ServiceId,
		MemberId:         memberId,
		Classes:          map[string]SchemaDataItem{},
		publisherFactory: publisherFactory,
	}

	// Classes may reference other classes anywhere in their definition, so
	// each class is built once everything it references is built. The
	// document order does not matter.
	remaining := map[string]map[string]interface{}{}
	for className, classData := range document.Defs {
		remaining[className] = classData
	}
	for len(remaining) > 0 {
		progressed := false
		for className, classData := range remaining {
			if !refsResolved(classData, document.Defs, schema.Classes) {
				continue
			}
			item, httpErr := CreateDataItem(className, classData, schema, schema.Classes)
			if httpErr != (model.HttpError{}) {
				return schema, httpErr
			}
			schema.Classes[className] = item
			delete(remaining, className)
			progressed = true
		}
		if !progressed {
			names := make([]string, 0, len(remaining))
			for className := range remaining {
				names = append(names, className)
			}
			sort.Strings(names)
			return schema, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Data classes reference each other in a cycle: %s.", strings.Join(names, ", "))}
		}
	}

	logger.Debugf("Loaded schema %s with %d data classes.", schema.SchemaId, len(schema.Classes))
	return schema, httpErr
}

// refsResolved reports whether every class referenced anywhere in the class
// data is already built. References to classes the document never defines do
// not block the build, they fail with the unknown-class error of the item
// factory.
func refsResolved(data interface{}, defs map[string]map[string]interface{}, built map[string]SchemaDataItem) bool {
	switch typedData := data.(type) {
	case map[string]interface{}:
		for key, value := range typedData {
			if key == "$ref" {
				reference, ok := value.(string)
				if !ok || !strings.HasPrefix(reference, "/schemas/") {
					continue
				}
				referencedClassName := reference[strings.LastIndex(reference, "/")+1:]
				if _, defined := defs[referencedClassName]; !defined {
					continue
				}
				if _, ok := built[referencedClassName]; !ok {
					return false
				}
				continue
			}
			if !refsResolved(value, defs, built) {
				return false
			}
		}
	case []interface{}:
		for _, value := range typedData {
			if !refsResolved(value, defs, built) {
				return false
			}
		}
	}
	return true
}

// Class looks up a data class by name.
func (s *Schema) Class(className string) (item SchemaDataItem, httpErr model.HttpError) {
	item, ok := s.Classes[className]
	if !ok {
		return item, model.HttpError{Status: http.StatusNotFound, Message: fmt.Sprintf("Unknown data class: %s.", className)}
	}
	return item, httpErr
}
