package permission

import (
	"fmt"

	"clipscope/pkg/domain"
)

// DefaultHardDeny lists platform families that are never downloadable,
// whatever Check decided.
var DefaultHardDeny = []domain.PlatformID{
	domain.PlatformDouyin,
	domain.PlatformYouTube,
	domain.PlatformTikTok,
}

// HardDenyList is the gate applied after Check. It is kept separate from
// the rule engine so each can be tested alone.
type HardDenyList struct {
	ids map[domain.PlatformID]struct{}
}

func NewHardDenyList(ids []domain.PlatformID) HardDenyList {
	set := make(map[domain.PlatformID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return HardDenyList{ids: set}
}

// Denies reports whether id is on the list.
func (h HardDenyList) Denies(id domain.PlatformID) bool {
	_, ok := h.ids[id]
	return ok
}

// Apply forces a listed platform to non-downloadable. The license status
// is kept; the message points the user to the official platform.
func (h HardDenyList) Apply(id domain.PlatformID, platformName string, res domain.PermissionResult) domain.PermissionResult {
	if !h.Denies(id) {
		return res
	}
	res.Downloadable = false
	res.RequiresUpgrade = false
	if res.Reason == domain.ReasonNone {
		res.Reason = domain.ReasonPlatformPolicy
	}
	res.ComplianceMessage = fmt.Sprintf("%s content is available for preview only. Please watch it on the official %s platform.", platformName, platformName)
	return res
}
