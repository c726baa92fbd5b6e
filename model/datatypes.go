package model

// IdType describes the kind of entity behind an identity in the network.
// Accounts and members are keyed by UUID, services by a numeric service id.
type IdType string

const (
	IdTypeAccount IdType = "account"
	IdTypeMember  IdType = "member"
	IdTypeService IdType = "service"
	IdTypeNetwork IdType = "network"
)

// EntityType is the category of caller an access rule applies to.
type EntityType string

const (
	EntityMember    EntityType = "member"
	EntityAnyMember EntityType = "any_member"
	EntityService   EntityType = "service"
	EntityNetwork   EntityType = "network"
	EntityAnonymous EntityType = "anonymous"
)

// DataOperation is a data manipulation that an access rule can permit.
type DataOperation string

const (
	OperationRead    DataOperation = "read"
	OperationCreate  DataOperation = "create"
	OperationUpdate  DataOperation = "update"
	OperationAppend  DataOperation = "append"
	OperationDelete  DataOperation = "delete"
	OperationSearch  DataOperation = "search"
	OperationPersist DataOperation = "persist"
)

// DataType is the declared type of a data class in the schema.
type DataType string

const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeNumber    DataType = "number"
	TypeBoolean   DataType = "boolean"
	TypeObject    DataType = "object"
	TypeArray     DataType = "array"
	TypeUUID      DataType = "uuid"
	TypeDateTime  DataType = "date-time"
	TypeReference DataType = "reference"
)

// ApiType names the generated APIs that get enabled for a data class based
// on the operations its access rules permit.
type ApiType string

const (
	ApiMutate ApiType = "mutate"
	ApiAppend ApiType = "append"
	ApiSearch ApiType = "search"
	ApiDelete ApiType = "delete"
)
