package versioning

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/assetforge/cfgvault/pkg/authz"
)

// TransitionRule allows one role to move a version from one status to another.
type TransitionRule struct {
	Role authz.Role
	From Status
	To   Status
}

// DefaultTransitions is the generic-transition matrix. Golden never appears
// as a target: it is only reachable through PromoteToGolden, which also
// archives the previous Golden. Archived never appears as a source.
var DefaultTransitions = []TransitionRule{
	{Role: authz.RoleEngineer, From: StatusDraft, To: StatusApproved},
	{Role: authz.RoleEngineer, From: StatusDraft, To: StatusSilver},
	{Role: authz.RoleEngineer, From: StatusSilver, To: StatusApproved},

	{Role: authz.RoleAdministrator, From: StatusDraft, To: StatusApproved},
	{Role: authz.RoleAdministrator, From: StatusDraft, To: StatusSilver},
	{Role: authz.RoleAdministrator, From: StatusDraft, To: StatusArchived},
	{Role: authz.RoleAdministrator, From: StatusSilver, To: StatusDraft},
	{Role: authz.RoleAdministrator, From: StatusSilver, To: StatusApproved},
	{Role: authz.RoleAdministrator, From: StatusSilver, To: StatusArchived},
	{Role: authz.RoleAdministrator, From: StatusApproved, To: StatusDraft},
	{Role: authz.RoleAdministrator, From: StatusApproved, To: StatusArchived},
	{Role: authz.RoleAdministrator, From: StatusGolden, To: StatusDraft},
	{Role: authz.RoleAdministrator, From: StatusGolden, To: StatusApproved},
	{Role: authz.RoleAdministrator, From: StatusGolden, To: StatusArchived},
}

// LegalTransitions returns the statuses role may move a version to from
// current through the generic transition path. The result is a fresh set
// the caller may modify.
func LegalTransitions(role authz.Role, current Status) mapset.Set[Status] {
	out := mapset.NewThreadUnsafeSet[Status]()
	if current.Terminal() {
		return out
	}
	for _, r := range DefaultTransitions {
		if r.Role == role && r.From == current && r.To != StatusGolden {
			out.Add(r.To)
		}
	}
	return out
}

// checkTransition validates a generic transition request.
func checkTransition(op string, role authz.Role, from, to Status) error {
	if !to.Valid() {
		return Errorf(KindValidation, op, "unknown target status %q", to)
	}
	if to == StatusGolden {
		return Errorf(KindPermissionDenied, op, "Golden is reachable only through promotion")
	}
	if from == to {
		return Errorf(KindValidation, op, "version is already %s", from)
	}
	if from.Terminal() {
		return Errorf(KindPermissionDenied, op, "%s is terminal", from)
	}
	if !LegalTransitions(role, from).Contains(to) {
		return Errorf(KindPermissionDenied, op, "role %s may not move a version from %s to %s", role, from, to)
	}
	return nil
}
