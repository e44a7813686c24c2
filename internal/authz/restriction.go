package authz

import (
	"net/netip"
	"strings"
)

// EvaluateAccess checks the request-time restrictions of a single role
// against the context: the daily time window and the network allowlist.
// An empty restriction set is unconstrained, never deny-by-default.
// The assignment cap is an admission concern and is checked separately by
// EvaluateAdmission; a role running over capacity does not retroactively
// deny sessions that already hold it.
func EvaluateAccess(r Restrictions, reqCtx Context) Decision {
	if r.TimeRange != nil && !reqCtx.Now.IsZero() && !r.TimeRange.Contains(reqCtx.Now) {
		return Deny(ReasonOutsideTimeWindow)
	}
	if len(r.IPAllowlist) > 0 && !ipAllowed(r.IPAllowlist, reqCtx.CallerIP) {
		return Deny(ReasonIPNotAllowed)
	}
	return Allow()
}

// EvaluateAdmission checks whether a new assignment to the role would
// exceed its maxUsers cap. ActiveAssignments carries the count the role
// would have after admission.
func EvaluateAdmission(r Restrictions, reqCtx Context) Decision {
	if r.MaxUsers != nil && reqCtx.ActiveAssignments > *r.MaxUsers {
		return Deny(ReasonRoleCapacityExceeded)
	}
	return Allow()
}

// ipAllowed reports whether callerIP matches any allowlist entry. Entries
// are exact addresses or CIDR prefixes.
func ipAllowed(allowlist []string, callerIP string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(callerIP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}

// validateRestrictions rejects restriction policies that could never be
// satisfied or could not be evaluated.
func validateRestrictions(r Restrictions) error {
	if r.MaxUsers != nil && *r.MaxUsers < 0 {
		return &ValidationError{Field: "restrictions.maxUsers", Msg: "must not be negative"}
	}
	if tr := r.TimeRange; tr != nil {
		if tr.Start < 0 || tr.Start >= minutesPerDay || tr.End < 0 || tr.End > minutesPerDay {
			return &ValidationError{Field: "restrictions.timeRange", Msg: "minutes must fall within a single day"}
		}
		if tr.Start >= tr.End {
			return &ValidationError{Field: "restrictions.timeRange", Msg: "start must precede end"}
		}
	}
	for _, entry := range r.IPAllowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return &ValidationError{Field: "restrictions.ipAllowlist", Msg: "empty entry"}
		}
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return &ValidationError{Field: "restrictions.ipAllowlist", Msg: "invalid prefix " + entry}
			}
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return &ValidationError{Field: "restrictions.ipAllowlist", Msg: "invalid address " + entry}
		}
	}
	return nil
}

const minutesPerDay = 24 * 60
