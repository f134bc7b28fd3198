// Package access is the authorization guard for every matching operation.
//
// The rules are data: one Policy per Operation in Policies, evaluated by
// Authorize. Authorize is pure domain logic. Callers load the records it needs
// (program state, the caller's authority record, the target's owner) and
// pass them in.
package access

import (
	"organmatch/internal/matching/models"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// Operation names a guarded state transition.
type Operation string

const (
	OpInitialize          Operation = "initialize"
	OpSetMedicalAuthority Operation = "set_medical_authority"
	OpUpsertRecipient     Operation = "upsert_recipient"
	OpAddDonor            Operation = "add_donor"
	OpMarkRemoved         Operation = "mark_removed"
	OpMarkWithdrawn       Operation = "mark_withdrawn"
	OpFindBestMatch       Operation = "find_best_match"
	OpConfirmMatch        Operation = "confirm_match"
	OpRejectMatch         Operation = "reject_match"
	OpPause               Operation = "pause"
	OpUnpause             Operation = "unpause"
)

// Role is a bit set of the capacities a caller holds for one request.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleAuthority
	RoleOwner

	// RoleAnyone admits every authenticated caller, including anonymous ones.
	RoleAnyone Role = 0
)

func (r Role) Has(other Role) bool { return r&other != 0 }

// Policy is one row of the authorization table.
type Policy struct {
	// Allowed lists the roles that may perform the operation. RoleAnyone means no role check.
	Allowed Role
	// BypassesPause lets the operation run while the program is paused.
	BypassesPause bool
	// BarRecipientOwner forbids the matched recipient's owner from performing
	// the operation even when they also hold an allowed role.
	BarRecipientOwner bool
}

// Policies is the complete authorization table.
var Policies = map[Operation]Policy{
	OpInitialize:          {Allowed: RoleAnyone},
	OpSetMedicalAuthority: {Allowed: RoleAdmin},
	OpUpsertRecipient:     {Allowed: RoleOwner | RoleAuthority | RoleAdmin},
	OpAddDonor:            {Allowed: RoleAuthority | RoleAdmin},
	OpMarkRemoved:         {Allowed: RoleOwner | RoleAuthority | RoleAdmin},
	OpMarkWithdrawn:       {Allowed: RoleOwner | RoleAuthority | RoleAdmin},
	OpFindBestMatch:       {Allowed: RoleAuthority | RoleAdmin},
	OpConfirmMatch:        {Allowed: RoleAuthority | RoleAdmin, BarRecipientOwner: true},
	OpRejectMatch:         {Allowed: RoleAuthority | RoleAdmin, BarRecipientOwner: true},
	OpPause:               {Allowed: RoleAdmin, BypassesPause: true},
	OpUnpause:             {Allowed: RoleAdmin, BypassesPause: true},
}

// Request carries everything Authorize inspects.
type Request struct {
	Operation Operation
	Caller    id.AccountID
	// Program is nil only before initialize.
	Program *models.ProgramState
	// CallerAuthority is the caller's own authority record, if one exists.
	CallerAuthority *models.MedicalAuthority
	// Owner is the owning identity of the target record. Nil when the
	// operation has no target or the target does not exist.
	Owner *id.AccountID
	// RecipientOwner is the owner of the recipient named by the target match.
	RecipientOwner *id.AccountID
}

// RolesOf derives the caller's roles for the request.
func RolesOf(req Request) Role {
	var roles Role
	if req.Caller.IsNil() {
		return roles
	}
	if req.Program != nil && req.Program.IsAdmin(req.Caller) {
		roles |= RoleAdmin
	}
	if req.CallerAuthority != nil && req.CallerAuthority.IsActive && req.CallerAuthority.Authority == req.Caller {
		roles |= RoleAuthority
	}
	if req.Owner != nil && *req.Owner == req.Caller {
		roles |= RoleOwner
	}
	return roles
}

// Authorize evaluates the policy for req.Operation. Checks run in a fixed
// order and the first failure decides the error:
//  1. Program exists (every operation but initialize)
//  2. Program not paused, unless the operation bypasses the pause
//  3. Caller holds an allowed role
//  4. Caller is not the matched recipient's owner, where barred
//
// Record existence and state eligibility are checked by the caller after a
// nil return.
func Authorize(req Request) error {
	policy, ok := Policies[req.Operation]
	if !ok {
		return dErrors.Newf(dErrors.CodeInternal, "no policy for operation %q", req.Operation)
	}
	if req.Operation == OpInitialize {
		return nil
	}

	// Rule 1: everything else needs the singleton.
	if req.Program == nil {
		return dErrors.New(dErrors.CodeInvalidState, "program is not initialized")
	}

	// Rule 2: pause gate
	if req.Program.Paused && !policy.BypassesPause {
		return dErrors.New(dErrors.CodeProgramPaused, "program is paused")
	}

	// Rule 3: role
	if policy.Allowed != RoleAnyone && !RolesOf(req).Has(policy.Allowed) {
		return dErrors.Newf(dErrors.CodeUnauthorized, "caller may not perform %s", req.Operation)
	}

	// Rule 4: self-confirmation bar
	if policy.BarRecipientOwner && req.RecipientOwner != nil && *req.RecipientOwner == req.Caller {
		return dErrors.Newf(dErrors.CodeUnauthorized, "the matched recipient may not %s", req.Operation)
	}
	return nil
}
