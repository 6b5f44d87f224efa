package permission

import (
	"fmt"
	"strings"

	"clipscope/pkg/domain"
)

// Input carries everything the engine needs; it performs no I/O.
type Input struct {
	Policy      domain.PlatformPolicy
	License     string
	Declaration domain.UserDeclaration
	Plan        domain.Plan
}

const (
	msgSubscriptionRequired  = "Download functionality requires a PRO subscription. Upgrade to access downloads for permitted content."
	msgAuthorizationRequired = "This platform requires explicit authorization. Please confirm you have permission to download this content."
	msgAuthorizedDeclaration = "Download permitted based on your authorization declaration."
	msgOpenLicense           = "Content is available under an open license."
	msgCopyrightProtected    = "Content is copyright protected and cannot be downloaded without explicit permission."
	msgDeclaredPermission    = "Download enabled based on your permission declaration. Please ensure you have the right to download this content."
	msgInsufficientPerm      = "Insufficient permission to download this content. Please verify you have the necessary rights."
)

// Check evaluates the download rules in fixed precedence; the first
// matching rule decides.
func Check(in Input) domain.PermissionResult {
	p := in.Policy
	d := in.Declaration

	if !p.AllowDownload {
		return domain.PermissionResult{
			LicenseStatus:     domain.LicenseProhibited,
			Reason:            domain.ReasonPlatformPolicy,
			ComplianceMessage: platformPolicyMessage(p.Name),
		}
	}
	if !in.Plan.IsPaid() {
		return domain.PermissionResult{
			LicenseStatus:     domain.LicenseUnknown,
			Reason:            domain.ReasonSubscriptionRequired,
			RequiresUpgrade:   true,
			ComplianceMessage: msgSubscriptionRequired,
		}
	}
	if p.RequiresAuth {
		if !d.HasPermission {
			return domain.PermissionResult{
				LicenseStatus:     domain.LicenseUnknown,
				Reason:            domain.ReasonAuthorizationRequired,
				ComplianceMessage: msgAuthorizationRequired,
			}
		}
		if d.IsContentOwner || d.HasCreatorAuth {
			return domain.PermissionResult{
				Downloadable:      true,
				LicenseStatus:     domain.LicensePermitted,
				ComplianceMessage: msgAuthorizedDeclaration,
			}
		}
	}
	switch classifyLicense(in.License) {
	case licenseOpen:
		return domain.PermissionResult{
			Downloadable:      true,
			LicenseStatus:     domain.LicensePermitted,
			ComplianceMessage: msgOpenLicense,
		}
	case licenseClosed:
		return domain.PermissionResult{
			LicenseStatus:     domain.LicenseProhibited,
			Reason:            domain.ReasonCopyrightProtected,
			ComplianceMessage: msgCopyrightProtected,
		}
	}
	if d.HasPermission {
		return domain.PermissionResult{
			Downloadable:      true,
			LicenseStatus:     domain.LicenseUnknown,
			ComplianceMessage: msgDeclaredPermission,
		}
	}
	return domain.PermissionResult{
		LicenseStatus:     domain.LicenseUnknown,
		Reason:            domain.ReasonInsufficientPerm,
		ComplianceMessage: msgInsufficientPerm,
	}
}

func platformPolicyMessage(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "This platform"
	}
	return fmt.Sprintf("%s does not permit third-party downloads. You can embed or view the content directly on their platform.", name)
}
