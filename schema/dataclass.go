package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
)

var logger = logging.Log()

const (
	MarkerAccessControl = "#accesscontrol"
	MarkerProperties    = "#properties"
)

const PropertyCounter = "counter"

var uuidRegex = regexp.MustCompile(
	"^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$",
)

// SchemaDataItem models a data class declared in the schema. The variant
// set is closed: an item is an object, an array or a scalar.
type SchemaDataItem interface {
	Name() string
	Type() model.DataType
	AccessRights() map[model.EntityType][]DataAccessRight
	EnabledApis() map[model.ApiType]bool

	// AuthorizeAccess decides whether the caller may perform the operation
	// on this data class. Deny dominates: container items veto an allowed
	// parent when any descendant denies. Indeterminate defers to the
	// caller's default policy.
	AuthorizeAccess(operation model.DataOperation, auth *RequestAuth, serviceId int, depth int) model.Determination

	// Normalize coerces a raw value to the declared type of the item.
	Normalize(value interface{}) (interface{}, model.HttpError)
}

// CreateDataItem is the factory for data class instances, dispatching on
// the declared type.
func CreateDataItem(className string, schemaData map[string]interface{}, schema *Schema, classes map[string]SchemaDataItem) (SchemaDataItem, model.HttpError) {
	itemType, ok := schemaData["type"].(string)
	if !ok || itemType == "" {
		return nil, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("No type found in %s.", className)}
	}

	logger.Debugf("Creating data class instance for %s for type %s.", className, itemType)

	switch itemType {
	case "object":
		return newDataObject(className, schemaData, schema)
	case "array":
		return newDataArray(className, schemaData, schema, classes)
	case "string", "integer", "number", "boolean", "uuid", "date-time":
		return newDataScalar(className, schemaData, schema)
	default:
		return nil, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Data class %s is of unrecognized data type: %s.", className, itemType)}
	}
}

// dataItem carries what all variants share: name, declared type, the
// parsed access rules and the api flags derived from them.
type dataItem struct {
	name      string
	dataType  model.DataType
	serviceId int
	schema    *Schema

	properties  map[string]bool
	enabledApis map[model.ApiType]bool

	accessRights map[model.EntityType][]DataAccessRight
}

func newDataItem(className string, schemaData map[string]interface{}, schema *Schema) (item dataItem, httpErr model.HttpError) {
	itemType, _ := schemaData["type"].(string)
	item = dataItem{
		name:         className,
		dataType:     model.DataType(itemType),
		serviceId:    schema.ServiceId,
		schema:       schema,
		properties:   map[string]bool{},
		enabledApis:  map[model.ApiType]bool{},
		accessRights: map[model.EntityType][]DataAccessRight{},
	}

	if propertyData, ok := schemaData[MarkerProperties]; ok {
		propertyList, ok := propertyData.([]interface{})
		if !ok {
			return item, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Properties of %s must be a list.", className)}
		}
		for _, propertyValue := range propertyList {
			property, ok := propertyValue.(string)
			if !ok || property != PropertyCounter {
				return item, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unknown property for %s: %v.", className, propertyValue)}
			}
			item.properties[property] = true
		}
	}

	httpErr = item.parseAccessControls(schemaData)
	return item, httpErr
}

func (d *dataItem) parseAccessControls(schemaData map[string]interface{}) (httpErr model.HttpError) {
	logger.Debugf("Parsing access controls for %s.", d.name)

	rightsData, ok := schemaData[MarkerAccessControl]
	if !ok {
		logger.Debugf("No access rights defined for %s.", d.name)
		return httpErr
	}

	rights, ok := rightsData.(map[string]interface{})
	if !ok {
		return model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Access controls must be an object for class %s.", d.name)}
	}

	for entityTypeValue, accessRightsData := range rights {
		entityType, accessRights, httpErr := GetAccessRights(entityTypeValue, accessRightsData)
		if httpErr != (model.HttpError{}) {
			return httpErr
		}
		d.accessRights[entityType] = accessRights

		for _, accessRight := range accessRights {
			switch accessRight.Operation {
			case model.OperationCreate, model.OperationUpdate:
				d.enabledApis[model.ApiMutate] = true
			case model.OperationAppend:
				d.enabledApis[model.ApiAppend] = true
			case model.OperationDelete:
				d.enabledApis[model.ApiDelete] = true
			case model.OperationSearch:
				d.enabledApis[model.ApiSearch] = true
			}
		}
	}
	return httpErr
}

func (d *dataItem) Name() string {
	return d.name
}

func (d *dataItem) Type() model.DataType {
	return d.dataType
}

func (d *dataItem) AccessRights() map[model.EntityType][]DataAccessRight {
	return d.accessRights
}

func (d *dataItem) EnabledApis() map[model.ApiType]bool {
	return d.enabledApis
}

// AuthorizeAccess evaluates the rules of this item alone. Cross-service
// access is categorically denied, an item without rules has no opinion and
// any matching rule allows - rule evaluation is order independent.
func (d *dataItem) AuthorizeAccess(operation model.DataOperation, auth *RequestAuth, serviceId int, depth int) model.Determination {
	logger.Debugf("Checking authorization for operation %s on %s.", operation, d.name)

	if serviceId != auth.ServiceId {
		logger.Debugf("Data API for service ID %d called with credentials for service %d.", serviceId, auth.ServiceId)
		return model.Deny
	}

	if len(d.accessRights) == 0 {
		logger.Debugf("No access controls defined for data item %s.", d.name)
		return model.Indeterminate
	}

	for entityType, accessRights := range d.accessRights {
		for _, accessRight := range accessRights {
			if accessRight.Authorize(entityType, auth, operation, depth, d.schema) {
				return model.Allow
			}
		}
	}

	logger.Debugf("No access controls matched for data item %s.", d.name)
	return model.Indeterminate
}

// Normalize on the base item is a passthrough, variants override it.
func (d *dataItem) Normalize(value interface{}) (interface{}, model.HttpError) {
	return value, model.HttpError{}
}

// SchemaDataScalar is a leaf data class with a normalization rule.
type SchemaDataScalar struct {
	dataItem

	format    string
	isCounter bool
}

func newDataScalar(className string, schemaData map[string]interface{}, schema *Schema) (scalar *SchemaDataScalar, httpErr model.HttpError) {
	item, httpErr := newDataItem(className, schemaData, schema)
	if httpErr != (model.HttpError{}) {
		return scalar, httpErr
	}
	scalar = &SchemaDataScalar{dataItem: item}

	if scalar.dataType == model.TypeString {
		scalar.format, _ = schemaData["format"].(string)
		regex, _ := schemaData["regex"].(string)
		if scalar.format == "date-time" {
			scalar.dataType = model.TypeDateTime
		} else if scalar.format == "uuid" || regex == uuidRegex.String() {
			scalar.dataType = model.TypeUUID
		}
	}

	scalar.isCounter = scalar.properties[PropertyCounter]
	if scalar.isCounter && scalar.dataType != model.TypeUUID && scalar.dataType != model.TypeString {
		return scalar, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Only UUIDs and strings can be counters: %s, %s.", scalar.name, scalar.dataType)}
	}

	logger.Debugf("Created scalar class %s of type %s with format %s.", scalar.name, scalar.dataType, scalar.format)
	return scalar, model.HttpError{}
}

func (s *SchemaDataScalar) IsCounter() bool {
	return s.isCounter
}

func (s *SchemaDataScalar) Normalize(value interface{}) (interface{}, model.HttpError) {
	if value == nil {
		return value, model.HttpError{}
	}

	switch s.dataType {
	case model.TypeUUID:
		if _, ok := value.(uuid.UUID); ok {
			return value, model.HttpError{}
		}
		stringValue, ok := value.(string)
		if !ok {
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a UUID: %v.", s.name, value)}
		}
		id, err := uuid.Parse(stringValue)
		if err != nil {
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a UUID: %v.", s.name, value), RootError: err}
		}
		return id, model.HttpError{}
	case model.TypeDateTime:
		switch typedValue := value.(type) {
		case time.Time:
			return typedValue, model.HttpError{}
		case string:
			timestamp, err := time.Parse(time.RFC3339, typedValue)
			if err != nil {
				return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a timestamp: %v.", s.name, value), RootError: err}
			}
			return timestamp, model.HttpError{}
		case float64:
			return time.Unix(int64(typedValue), 0).UTC(), model.HttpError{}
		case int:
			return time.Unix(int64(typedValue), 0).UTC(), model.HttpError{}
		case int64:
			return time.Unix(typedValue, 0).UTC(), model.HttpError{}
		default:
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a timestamp: %v.", s.name, value)}
		}
	default:
		return value, model.HttpError{}
	}
}

// SchemaDataObject is a data class with named fields. Objects nested
// directly under objects are not supported, the schema stays one level
// deep below each object.
type SchemaDataObject struct {
	dataItem

	fields         map[string]SchemaDataItem
	requiredFields []string
	definedClass   bool
}

func newDataObject(className string, schemaData map[string]interface{}, schema *Schema) (object *SchemaDataObject, httpErr model.HttpError) {
	item, httpErr := newDataItem(className, schemaData, schema)
	if httpErr != (model.HttpError{}) {
		return object, httpErr
	}
	object = &SchemaDataObject{dataItem: item, fields: map[string]SchemaDataItem{}}

	if requiredData, ok := schemaData["required"].([]interface{}); ok {
		for _, requiredValue := range requiredData {
			if requiredField, ok := requiredValue.(string); ok {
				object.requiredFields = append(object.requiredFields, requiredField)
			}
		}
	}

	if _, ok := schemaData["$id"].(string); ok {
		object.definedClass = true
	}

	fieldsData, ok := schemaData["properties"].(map[string]interface{})
	if !ok {
		return object, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Object %s does not define properties.", className)}
	}

	for fieldName, fieldData := range fieldsData {
		fieldProperties, ok := fieldData.(map[string]interface{})
		if !ok {
			return object, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Field %s of object %s must be an object.", fieldName, className)}
		}
		fieldType, _ := fieldProperties["type"].(string)
		if fieldType == "object" {
			return object, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Nested objects under object %s are not supported.", className)}
		}
		if fieldType == "array" {
			items, hasItems := fieldProperties["items"]
			if !hasItems {
				return object, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Array for %s does not specify items.", className)}
			}
			if _, ok := items.(map[string]interface{}); !ok {
				return object, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Items property of array %s must be an object.", className)}
			}
		}

		field, httpErr := CreateDataItem(fieldName, fieldProperties, schema, schema.Classes)
		if httpErr != (model.HttpError{}) {
			return object, httpErr
		}
		object.fields[fieldName] = field
	}

	logger.Debugf("Created object class %s.", className)
	return object, model.HttpError{}
}

func (o *SchemaDataObject) Fields() map[string]SchemaDataItem {
	return o.fields
}

// Normalize coerces every field. The remote member id and the recursion
// depth are bookkeeping fields of remote appends and never run through
// field-type coercion.
func (o *SchemaDataObject) Normalize(value interface{}) (interface{}, model.HttpError) {
	objectValue, ok := value.(map[string]interface{})
	if !ok {
		return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not an object.", o.name)}
	}

	data := map[string]interface{}{}
	for fieldName, fieldValue := range objectValue {
		if fieldName == "remote_member_id" {
			if stringValue, ok := fieldValue.(string); ok {
				id, err := uuid.Parse(stringValue)
				if err != nil {
					return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Remote member id is not a UUID: %v.", fieldValue), RootError: err}
				}
				data[fieldName] = id
			} else {
				data[fieldName] = fieldValue
			}
			continue
		}
		if fieldName == "depth" {
			data[fieldName] = fieldValue
			continue
		}

		field, ok := o.fields[fieldName]
		if !ok {
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unknown field %s for object %s.", fieldName, o.name)}
		}
		normalized, httpErr := field.Normalize(fieldValue)
		if httpErr != (model.HttpError{}) {
			return value, httpErr
		}
		data[fieldName] = normalized
	}
	return data, model.HttpError{}
}

// AuthorizeAccess combines the determination of the object with those of
// all its fields. A denying field vetoes an otherwise allowed object.
func (o *SchemaDataObject) AuthorizeAccess(operation model.DataOperation, auth *RequestAuth, serviceId int, depth int) model.Determination {
	accessAllowed := o.dataItem.AuthorizeAccess(operation, auth, serviceId, depth)
	if accessAllowed == model.Deny {
		return model.Deny
	}

	for _, field := range o.fields {
		childAccessAllowed := field.AuthorizeAccess(operation, auth, serviceId, depth)
		logger.Debugf("Object child data access authorized: %s.", childAccessAllowed)
		if childAccessAllowed == model.Deny {
			return model.Deny
		}
	}

	logger.Debugf("Object data access authorized: %s for data item %s.", accessAllowed, o.name)
	return accessAllowed
}

// SchemaDataArray is a data class holding either scalars or objects of a
// referenced class.
type SchemaDataArray struct {
	dataItem

	referencedClass SchemaDataItem
	publisher       Publisher
}

func newDataArray(className string, schemaData map[string]interface{}, schema *Schema, classes map[string]SchemaDataItem) (array *SchemaDataArray, httpErr model.HttpError) {
	item, httpErr := newDataItem(className, schemaData, schema)
	if httpErr != (model.HttpError{}) {
		return array, httpErr
	}
	array = &SchemaDataArray{dataItem: item}

	itemsData, ok := schemaData["items"].(map[string]interface{})
	if !ok {
		return array, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Array %s does not have items defined.", className)}
	}

	if _, hasType := itemsData["type"]; hasType {
		referencedClass, httpErr := CreateDataItem("", itemsData, schema, classes)
		if httpErr != (model.HttpError{}) {
			return array, httpErr
		}
		array.referencedClass = referencedClass
	} else if referenceData, hasRef := itemsData["$ref"]; hasRef {
		reference, ok := referenceData.(string)
		if !ok {
			return array, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Reference of array %s must be a string.", className)}
		}
		if !strings.HasPrefix(reference, "/schemas/") {
			return array, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Data reference %s must start with \"/schemas/\".", reference)}
		}
		if strings.Count(reference, "/") > 2 {
			return array, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Data reference %s must have a path with no more than 2 \"/\"s.", reference)}
		}

		referencedClassName := reference[strings.LastIndex(reference, "/")+1:]
		referencedClass, ok := classes[referencedClassName]
		if !ok {
			return array, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unknown class %s referenced by %s.", referencedClassName, className)}
		}
		array.referencedClass = referencedClass

		// Changes to arrays of referenced objects get announced, arrays
		// of scalars do not.
		if schema.publisherFactory != nil {
			array.publisher = schema.publisherFactory(className)
		}
	} else {
		return array, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Array %s must have \"type\" or \"$ref\" defined.", className)}
	}

	logger.Debugf("Created array class %s.", className)
	return array, model.HttpError{}
}

func (a *SchemaDataArray) ReferencedClass() SchemaDataItem {
	return a.referencedClass
}

func (a *SchemaDataArray) Publisher() Publisher {
	return a.publisher
}

// Normalize runs every element through the normalizer of the referenced
// class. Scalar arrays additionally accept a JSON-encoded list as text.
func (a *SchemaDataArray) Normalize(value interface{}) (interface{}, model.HttpError) {
	var items []interface{}

	_, referencesObject := a.referencedClass.(*SchemaDataObject)
	switch typedValue := value.(type) {
	case []interface{}:
		items = typedValue
	case string:
		if referencesObject {
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a list.", a.name)}
		}
		if typedValue == "" {
			typedValue = "[]"
		}
		if err := json.Unmarshal([]byte(typedValue), &items); err != nil {
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a list: %v.", a.name, value), RootError: err}
		}
	case []byte:
		if err := json.Unmarshal(typedValue, &items); err != nil {
			return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a list: %v.", a.name, value), RootError: err}
		}
	case nil:
		return []interface{}{}, model.HttpError{}
	default:
		return value, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Value for %s is not a list.", a.name)}
	}

	result := []interface{}{}
	for _, item := range items {
		normalized, httpErr := a.referencedClass.Normalize(item)
		if httpErr != (model.HttpError{}) {
			return value, httpErr
		}
		result = append(result, normalized)
	}
	return result, model.HttpError{}
}

// AuthorizeAccess combines the determination of the array with that of the
// referenced element class.
func (a *SchemaDataArray) AuthorizeAccess(operation model.DataOperation, auth *RequestAuth, serviceId int, depth int) model.Determination {
	accessAllowed := a.dataItem.AuthorizeAccess(operation, auth, serviceId, depth)
	if accessAllowed == model.Deny {
		logger.Debugf("Access is not authorized for %s for service %d.", operation, serviceId)
		return model.Deny
	}

	if a.referencedClass != nil {
		childAccessAllowed := a.referencedClass.AuthorizeAccess(operation, auth, serviceId, depth)
		logger.Debugf("Child of array data access authorized: %s for data item %s.", childAccessAllowed, a.name)
		if childAccessAllowed == model.Deny {
			return model.Deny
		}
	}

	logger.Debugf("Array data access authorized: %s for data item %s.", accessAllowed, a.name)
	return accessAllowed
}
