/*
authz.go - Capability checks for fee operations

A single policy function decides (actor, resource, action) instead of
role-string comparisons scattered through handlers. The policy is pure
and testable in isolation from HTTP framing.
*/
package fees

// Roles known to the fee core.
const (
	RoleAccounts = "accounts"
	RoleAdmin    = "admin"
	RoleStudent  = "student"
)

// Actor is the identity performing an operation. System actors are
// non-human "accounts" identities used for gateway-originated payments.
type Actor struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id"`
	Role     string `json:"role"`
	System   bool   `json:"system,omitempty"`
}

// Action is something an actor may attempt on a resource.
type Action string

const (
	ActionManageFees    Action = "manage_fees"    // upsert/update/delete fee structures
	ActionRecordPayment Action = "record_payment" // append ledger entries
	ActionReverse       Action = "reverse"        // create compensating entries
	ActionReadLedger    Action = "read_ledger"    // school-wide ledger views
	ActionReadBalance   Action = "read_balance"
)

// SchoolResource scopes an action to one school.
type SchoolResource struct {
	SchoolID string
}

// Policy decides whether an actor may perform an action on a resource.
type Policy interface {
	Allow(actor Actor, res SchoolResource, action Action) bool
}

// SchoolPolicy is the default policy: accounts staff act only within
// their own school; admins read anything in their school; students hold
// no ledger capabilities (self-service views are scoped by caller id,
// not by policy).
type SchoolPolicy struct{}

func (SchoolPolicy) Allow(actor Actor, res SchoolResource, action Action) bool {
	if actor.SchoolID != res.SchoolID {
		return false
	}
	switch action {
	case ActionManageFees, ActionRecordPayment, ActionReverse:
		return actor.Role == RoleAccounts
	case ActionReadLedger, ActionReadBalance:
		return actor.Role == RoleAccounts || actor.Role == RoleAdmin
	}
	return false
}

// deny builds the error returned on a policy rejection.
func deny(actor Actor, res SchoolResource, action Action) error {
	return &AuthorizationError{ActorID: actor.ID, Action: action, Resource: "school " + res.SchoolID}
}
