package schema

import (
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
)

var testOwnerId = uuid.MustParse("7a04d6f9-817e-4154-b5ea-5798f1da6fe8")
var testOtherId = uuid.MustParse("f5f0d8ed-53c4-4df0-96c9-12b39733c641")

const testSchemaDoc = `{
	"$id": "https://service.podnet.net/schemas/addressbook.json",
	"service_id": 4,
	"$defs": {
		"person": {
			"type": "object",
			"#accesscontrol": {
				"member": [{"permissions": ["read", "create", "update"]}]
			},
			"properties": {
				"given_name": {"type": "string"},
				"email": {"type": "string"}
			}
		},
		"network_link": {
			"type": "object",
			"#accesscontrol": {
				"member": [{"permissions": ["read", "create"]}]
			},
			"properties": {
				"member_id": {"type": "string", "format": "uuid"},
				"created": {"type": "string", "format": "date-time"},
				"relation": {"type": "string"}
			}
		},
		"network_links": {
			"type": "array",
			"#accesscontrol": {
				"member": [{"permissions": ["read", "create", "append"]}],
				"network": [{"permissions": ["read"], "distance": 1}]
			},
			"items": {"$ref": "/schemas/network_link"}
		},
		"tags": {
			"type": "array",
			"items": {"type": "string"}
		},
		"status": {
			"type": "string",
			"#accesscontrol": {
				"anonymous": [{"permissions": ["read"]}],
				"any_member": [{"permissions": ["read", "update"]}],
				"service": [{"permissions": ["read"]}]
			}
		},
		"join_date": {
			"type": "object",
			"properties": {
				"joined": {"type": "string", "format": "date-time"}
			}
		}
	}
}`

type spyPublisherFactory struct {
	boundClasses []string
}

func (f *spyPublisherFactory) create(className string) Publisher {
	f.boundClasses = append(f.boundClasses, className)
	return NoopPublisher{}
}

func loadTestSchema(t *testing.T) (*Schema, *spyPublisherFactory) {
	factory := &spyPublisherFactory{}
	schema, httpErr := Load([]byte(testSchemaDoc), testOwnerId, factory.create)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Schema could not be loaded: %v.", httpErr)
	}
	return schema, factory
}

func TestLoadSchema(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	schema, factory := loadTestSchema(t)

	if schema.ServiceId != 4 {
		t.Errorf("Expected service id 4, but was %d.", schema.ServiceId)
	}
	if len(schema.Classes) != 6 {
		t.Errorf("Expected 6 data classes, but was %d.", len(schema.Classes))
	}

	linksItem, httpErr := schema.Class("network_links")
	if httpErr != (model.HttpError{}) {
		t.Fatalf("The network_links class should exist: %v.", httpErr)
	}
	linksArray, ok := linksItem.(*SchemaDataArray)
	if !ok {
		t.Fatalf("The network_links class should be an array.")
	}
	if linksArray.ReferencedClass().Name() != "network_link" {
		t.Errorf("The array should reference network_link, but was %s.", linksArray.ReferencedClass().Name())
	}
	if linksArray.Publisher() == nil {
		t.Errorf("Arrays of referenced objects should have a publisher bound.")
	}

	// arrays of scalars do not announce changes
	sort.Strings(factory.boundClasses)
	if diff := cmp.Diff([]string{"network_links"}, factory.boundClasses); diff != "" {
		t.Errorf("Publishers were not bound as expected: %s.", diff)
	}

	personItem, _ := schema.Class("person")
	if !personItem.EnabledApis()[model.ApiMutate] {
		t.Errorf("Create and update permissions should enable the mutate api.")
	}
	if !linksItem.EnabledApis()[model.ApiAppend] {
		t.Errorf("The append permission should enable the append api.")
	}

	if _, httpErr := schema.Class("no_such_class"); httpErr.Status != http.StatusNotFound {
		t.Errorf("An unknown class should be a not found, but error is %v.", httpErr)
	}
}

func TestLoadSchemaErrors(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	type test struct {
		testName string
		document string
	}

	tests := []test{
		{"Reject a document without data classes.", `{"$id": "x", "service_id": 4, "$defs": {}}`},
		{"Reject a class without a type.", `{"service_id": 4, "$defs": {"person": {"properties": {}}}}`},
		{"Reject a class with an unknown type.", `{"service_id": 4, "$defs": {"person": {"type": "tuple"}}}`},
		{"Reject nested objects.", `{"service_id": 4, "$defs": {"person": {"type": "object", "properties": {"address": {"type": "object", "properties": {}}}}}}`},
		{"Reject an object without properties.", `{"service_id": 4, "$defs": {"person": {"type": "object"}}}`},
		{"Reject an array without items.", `{"service_id": 4, "$defs": {"links": {"type": "array"}}}`},
		{"Reject a reference to an unknown class.", `{"service_id": 4, "$defs": {"links": {"type": "array", "items": {"$ref": "/schemas/no_such_class"}}}}`},
		{"Reject a reference outside of /schemas/.", `{"service_id": 4, "$defs": {"links": {"type": "array", "items": {"$ref": "/other/person"}}, "person": {"type": "object", "properties": {}}}}`},
		{"Reject a reference with a nested path.", `{"service_id": 4, "$defs": {"links": {"type": "array", "items": {"$ref": "/schemas/deeper/person"}}, "person": {"type": "object", "properties": {}}}}`},
		{"Reject an unknown entity type in access controls.", `{"service_id": 4, "$defs": {"status": {"type": "string", "#accesscontrol": {"somebody": [{"permissions": ["read"]}]}}}}`},
		{"Reject an unknown permission in access controls.", `{"service_id": 4, "$defs": {"status": {"type": "string", "#accesscontrol": {"member": [{"permissions": ["fly"]}]}}}}`},
		{"Reject an access rule without permissions.", `{"service_id": 4, "$defs": {"status": {"type": "string", "#accesscontrol": {"member": [{"distance": 1}]}}}}`},
		{"Reject an unknown class property.", `{"service_id": 4, "$defs": {"status": {"type": "string", "#properties": ["sorted"]}}}`},
		{"Reject a counter on a non-string class.", `{"service_id": 4, "$defs": {"count": {"type": "integer", "#properties": ["counter"]}}}`},
		{"Reject a class referencing itself.", `{"service_id": 4, "$defs": {"links": {"type": "array", "items": {"$ref": "/schemas/links"}}}}`},
		{"Reject classes referencing each other in a cycle.", `{"service_id": 4, "$defs": {"links": {"type": "array", "items": {"$ref": "/schemas/backlinks"}}, "backlinks": {"type": "array", "items": {"$ref": "/schemas/links"}}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.testName, func(t *testing.T) {
			log.Infof("TestLoadSchemaErrors +++++++++++++++++ Running test: %s", tc.testName)
			_, httpErr := Load([]byte(tc.document), testOwnerId, nil)
			if httpErr.Status != http.StatusBadRequest {
				t.Errorf("%s: Expected a bad request, but error is %v.", tc.testName, httpErr)
			}
		})
	}
}

func TestLoadSchemaResolvesNestedReferences(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	// References sit inside object fields and point at other arrays here,
	// the build order must not depend on where a class appears in the
	// document.
	document := `{
		"service_id": 4,
		"$defs": {
			"directory": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"links": {"type": "array", "items": {"$ref": "/schemas/network_link"}}
				}
			},
			"all_links": {
				"type": "array",
				"items": {"$ref": "/schemas/network_links"}
			},
			"network_links": {
				"type": "array",
				"items": {"$ref": "/schemas/network_link"}
			},
			"network_link": {
				"type": "object",
				"properties": {
					"member_id": {"type": "string", "format": "uuid"}
				}
			}
		}
	}`

	schema, httpErr := Load([]byte(document), testOwnerId, nil)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Schema could not be loaded: %v.", httpErr)
	}

	directoryItem, _ := schema.Class("directory")
	directory, ok := directoryItem.(*SchemaDataObject)
	if !ok {
		t.Fatalf("The directory class should be an object.")
	}
	linksField, ok := directory.Fields()["links"].(*SchemaDataArray)
	if !ok {
		t.Fatalf("The links field should be an array.")
	}
	if linksField.ReferencedClass().Name() != "network_link" {
		t.Errorf("The links field should reference network_link, but was %s.", linksField.ReferencedClass().Name())
	}

	allLinksItem, _ := schema.Class("all_links")
	allLinks, ok := allLinksItem.(*SchemaDataArray)
	if !ok {
		t.Fatalf("The all_links class should be an array.")
	}
	if allLinks.ReferencedClass().Name() != "network_links" {
		t.Errorf("The all_links class should reference network_links, but was %s.", allLinks.ReferencedClass().Name())
	}
}

func TestAuthorizeAccess(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	schema, _ := loadTestSchema(t)

	ownerAuth := &RequestAuth{IdType: model.IdTypeMember, Id: testOwnerId, ServiceId: 4}
	otherMemberAuth := &RequestAuth{IdType: model.IdTypeMember, Id: testOtherId, ServiceId: 4}
	serviceAuth := &RequestAuth{IdType: model.IdTypeService, ServiceId: 4}
	foreignServiceAuth := &RequestAuth{IdType: model.IdTypeMember, Id: testOwnerId, ServiceId: 5}
	anonymousAuth := &RequestAuth{ServiceId: 4}

	type test struct {
		testName              string
		className             string
		operation             model.DataOperation
		auth                  *RequestAuth
		depth                 int
		expectedDetermination model.Determination
	}

	tests := []test{
		{"Allow the owner to read their own data.", "person", model.OperationRead, ownerAuth, 0, model.Allow},
		{"Allow the owner to update their own data.", "person", model.OperationUpdate, ownerAuth, 0, model.Allow},
		{"Make no determination for another member on member-only data.", "person", model.OperationRead, otherMemberAuth, 0, model.Indeterminate},
		{"Make no determination for an unpermitted operation.", "person", model.OperationDelete, ownerAuth, 0, model.Indeterminate},
		{"Deny access with credentials of another service.", "person", model.OperationRead, foreignServiceAuth, 0, model.Deny},
		{"Allow a direct network contact to read network links.", "network_links", model.OperationRead, otherMemberAuth, 1, model.Allow},
		{"Make no determination beyond the permitted network distance.", "network_links", model.OperationRead, otherMemberAuth, 2, model.Indeterminate},
		{"Deny network links access with credentials of another service.", "network_links", model.OperationRead, foreignServiceAuth, 1, model.Deny},
		{"Allow anonymous callers to read public data.", "status", model.OperationRead, anonymousAuth, 0, model.Allow},
		{"Allow any member to update shared data.", "status", model.OperationUpdate, otherMemberAuth, 0, model.Allow},
		{"Allow the service to read shared data.", "status", model.OperationRead, serviceAuth, 0, model.Allow},
		{"Make no determination for a class without rules.", "join_date", model.OperationRead, ownerAuth, 0, model.Indeterminate},
		{"Make no determination for an array without rules.", "tags", model.OperationRead, ownerAuth, 0, model.Indeterminate},
	}

	for _, tc := range tests {
		t.Run(tc.testName, func(t *testing.T) {
			log.Infof("TestAuthorizeAccess +++++++++++++++++ Running test: %s", tc.testName)
			item, httpErr := schema.Class(tc.className)
			if httpErr != (model.HttpError{}) {
				t.Fatalf("%s: The class %s should exist: %v.", tc.testName, tc.className, httpErr)
			}
			determination := item.AuthorizeAccess(tc.operation, tc.auth, schema.ServiceId, tc.depth)
			if determination != tc.expectedDetermination {
				t.Errorf("%s: Expected %s, but was %s.", tc.testName, tc.expectedDetermination, determination)
			}
		})
	}
}

type denyingItem struct {
	dataItem
}

func (d *denyingItem) AuthorizeAccess(operation model.DataOperation, auth *RequestAuth, serviceId int, depth int) model.Determination {
	return model.Deny
}

func TestDenyingChildVetoesParent(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	schema, _ := loadTestSchema(t)
	personItem, _ := schema.Class("person")
	person := personItem.(*SchemaDataObject)

	ownerAuth := &RequestAuth{IdType: model.IdTypeMember, Id: testOwnerId, ServiceId: 4}
	if determination := person.AuthorizeAccess(model.OperationRead, ownerAuth, schema.ServiceId, 0); determination != model.Allow {
		t.Fatalf("The owner should be allowed before the veto, but was %s.", determination)
	}

	person.fields["restricted"] = &denyingItem{}
	if determination := person.AuthorizeAccess(model.OperationRead, ownerAuth, schema.ServiceId, 0); determination != model.Deny {
		t.Errorf("A denying field should veto the allowed object, but was %s.", determination)
	}
}

func TestNormalize(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	schema, _ := loadTestSchema(t)
	linkClass, _ := schema.Class("network_link")
	linksClass, _ := schema.Class("network_links")
	tagsClass, _ := schema.Class("tags")

	log.Info("TestNormalize +++++++++++++++++ Running test: Coerce field values of an object.")
	normalized, httpErr := linkClass.Normalize(map[string]interface{}{
		"member_id": testOtherId.String(),
		"created":   "2026-08-23T10:30:00Z",
		"relation":  "friend",
	})
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Value could not be normalized: %v.", httpErr)
	}
	expected := map[string]interface{}{
		"member_id": testOtherId,
		"created":   time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC),
		"relation":  "friend",
	}
	if diff := cmp.Diff(expected, normalized); diff != "" {
		t.Errorf("Value was not normalized as expected: %s.", diff)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Accept unix timestamps.")
	normalized, httpErr = linkClass.Normalize(map[string]interface{}{"created": float64(1756031400)})
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Value could not be normalized: %v.", httpErr)
	}
	createdValue := normalized.(map[string]interface{})["created"]
	if createdValue != time.Unix(1756031400, 0).UTC() {
		t.Errorf("Unix timestamp was not normalized as expected: %v.", createdValue)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Pass bookkeeping fields through.")
	normalized, httpErr = linkClass.Normalize(map[string]interface{}{"remote_member_id": testOtherId.String(), "depth": float64(1)})
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Value could not be normalized: %v.", httpErr)
	}
	if normalized.(map[string]interface{})["remote_member_id"] != testOtherId {
		t.Errorf("The remote member id should be parsed to a UUID.")
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Reject unknown fields.")
	if _, httpErr := linkClass.Normalize(map[string]interface{}{"unknown": "value"}); httpErr.Status != http.StatusBadRequest {
		t.Errorf("An unknown field should be rejected, but error is %v.", httpErr)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Reject values that are not UUIDs.")
	if _, httpErr := linkClass.Normalize(map[string]interface{}{"member_id": "not-a-uuid"}); httpErr.Status != http.StatusBadRequest {
		t.Errorf("An invalid UUID should be rejected, but error is %v.", httpErr)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Normalize every element of an array.")
	normalized, httpErr = linksClass.Normalize([]interface{}{
		map[string]interface{}{"member_id": testOtherId.String()},
	})
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Value could not be normalized: %v.", httpErr)
	}
	elements := normalized.([]interface{})
	if len(elements) != 1 || elements[0].(map[string]interface{})["member_id"] != testOtherId {
		t.Errorf("Array elements were not normalized as expected: %v.", normalized)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Reject text values for object arrays.")
	if _, httpErr := linksClass.Normalize(`[{"member_id": "x"}]`); httpErr.Status != http.StatusBadRequest {
		t.Errorf("Text values for object arrays should be rejected, but error is %v.", httpErr)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Accept text values for scalar arrays.")
	normalized, httpErr = tagsClass.Normalize(`["a", "b"]`)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Value could not be normalized: %v.", httpErr)
	}
	if diff := cmp.Diff([]interface{}{"a", "b"}, normalized); diff != "" {
		t.Errorf("Scalar array was not normalized as expected: %s.", diff)
	}

	log.Info("TestNormalize +++++++++++++++++ Running test: Treat nil arrays as empty.")
	normalized, httpErr = tagsClass.Normalize(nil)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Value could not be normalized: %v.", httpErr)
	}
	if diff := cmp.Diff([]interface{}{}, normalized); diff != "" {
		t.Errorf("Nil arrays should normalize to an empty list: %s.", diff)
	}
}
