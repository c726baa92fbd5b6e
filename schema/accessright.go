package schema

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/podnet/podnet/model"
)

// RequestAuth is the verified caller identity an authorization request is
// evaluated against. It is derived from a verified token, never from an
// unverified one.
type RequestAuth struct {
	IdType    model.IdType
	Id        uuid.UUID
	ServiceId int
}

// DataAccessRight permits one operation for one caller category. Rules are
// parsed once from the schema and immutable afterwards.
type DataAccessRight struct {
	Operation model.DataOperation

	// Distance is the maximum network distance a network-category rule
	// covers.
	Distance int
}

// GetAccessRights parses one caller-category entry of an #accesscontrol
// declaration into its rights, one per permitted operation.
func GetAccessRights(entityTypeValue string, rightsData interface{}) (entityType model.EntityType, accessRights []DataAccessRight, httpErr model.HttpError) {
	entityType = model.EntityType(entityTypeValue)
	switch entityType {
	case model.EntityMember, model.EntityAnyMember, model.EntityService, model.EntityNetwork, model.EntityAnonymous:
	default:
		return entityType, accessRights, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unknown entity type in access control: %s.", entityTypeValue)}
	}

	ruleList, ok := rightsData.([]interface{})
	if !ok {
		return entityType, accessRights, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Access rights for %s must be a list.", entityTypeValue)}
	}

	for _, ruleData := range ruleList {
		rule, ok := ruleData.(map[string]interface{})
		if !ok {
			return entityType, accessRights, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Access rule for %s must be an object.", entityTypeValue)}
		}

		distance := 0
		if distanceValue, ok := rule["distance"].(float64); ok {
			distance = int(distanceValue)
		}

		permissions, ok := rule["permissions"].([]interface{})
		if !ok {
			return entityType, accessRights, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Access rule for %s does not declare permissions.", entityTypeValue)}
		}

		for _, permissionData := range permissions {
			permission, ok := permissionData.(string)
			if !ok {
				return entityType, accessRights, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Permission for %s must be a string.", entityTypeValue)}
			}
			operation := model.DataOperation(permission)
			switch operation {
			case model.OperationRead, model.OperationCreate, model.OperationUpdate, model.OperationAppend, model.OperationDelete, model.OperationSearch, model.OperationPersist:
			default:
				return entityType, accessRights, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unknown permission for %s: %s.", entityTypeValue, permission)}
			}
			accessRights = append(accessRights, DataAccessRight{Operation: operation, Distance: distance})
		}
	}
	return entityType, accessRights, httpErr
}

// Authorize evaluates the rule for the given caller. Rules only ever grant:
// a non-matching rule is no opinion, never a denial.
func (r DataAccessRight) Authorize(entityType model.EntityType, auth *RequestAuth, operation model.DataOperation, depth int, schema *Schema) bool {
	if r.Operation != operation {
		return false
	}

	switch entityType {
	case model.EntityMember:
		return auth.IdType == model.IdTypeMember && auth.Id == schema.MemberId
	case model.EntityAnyMember:
		return auth.IdType == model.IdTypeMember
	case model.EntityService:
		return auth.IdType == model.IdTypeService
	case model.EntityNetwork:
		return auth.IdType == model.IdTypeMember && depth <= r.Distance
	case model.EntityAnonymous:
		return true
	}
	return false
}
