package auth

import "github.com/packlane/packlane/internal/models"

// Policy decides whether an identity may view a shipment. Pure predicate,
// fail-closed: a shipment without an owner denies every non-admin.
type Policy struct {
	CompanySharing bool
}

func (p Policy) CanView(id Identity, s *models.Shipment) bool {
	if id.IsAdmin() {
		return true
	}
	if s.OwnerUserID != "" && id.SubjectID == s.OwnerUserID {
		return true
	}
	if p.CompanySharing && s.OwnerCompanyID != "" && id.CompanyID == s.OwnerCompanyID {
		return true
	}
	return false
}
