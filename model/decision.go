package model

// Decision is the api-level result of an authorization request.
type Decision struct {
	Decision bool   `json:"decision"`
	Reason   string `json:"reason"`
}

// Determination is the three-valued outcome of evaluating access rules on a
// data class. Indeterminate means no rule made a determination, which is
// explicitly not the same as Deny - the caller decides how to handle it.
type Determination string

const (
	Allow         Determination = "allow"
	Deny          Determination = "deny"
	Indeterminate Determination = "indeterminate"
)
