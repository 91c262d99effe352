package enums

import "fmt"

// AuditEntityType names the kind of entity an audit entry describes.
type AuditEntityType string

const (
	AuditEntityRecord AuditEntityType = "RECORD"
	AuditEntityUser   AuditEntityType = "USER"
)

var validAuditEntityTypes = []AuditEntityType{
	AuditEntityRecord,
	AuditEntityUser,
}

func (t AuditEntityType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known AuditEntityType.
func (t AuditEntityType) IsValid() bool {
	for _, candidate := range validAuditEntityTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAuditEntityType converts raw input into an AuditEntityType.
func ParseAuditEntityType(value string) (AuditEntityType, error) {
	for _, candidate := range validAuditEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit entity type %q", value)
}

// AuditSource names the code path that produced an audit entry.
type AuditSource string

const (
	AuditSourceManualEdit     AuditSource = "MANUAL_EDIT"
	AuditSourceSystem         AuditSource = "SYSTEM"
	AuditSourceUpload         AuditSource = "UPLOAD"
	AuditSourceReconciliation AuditSource = "RECONCILIATION"
	AuditSourceUserManagement AuditSource = "USER_MANAGEMENT"
)

var validAuditSources = []AuditSource{
	AuditSourceManualEdit,
	AuditSourceSystem,
	AuditSourceUpload,
	AuditSourceReconciliation,
	AuditSourceUserManagement,
}

func (s AuditSource) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AuditSource.
func (s AuditSource) IsValid() bool {
	for _, candidate := range validAuditSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAuditSource converts raw input into an AuditSource.
func ParseAuditSource(value string) (AuditSource, error) {
	for _, candidate := range validAuditSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit source %q", value)
}

// Allows reports whether the source may describe the entity type. User-management
// entries are the only ones that target users.
func (t AuditEntityType) Allows(source AuditSource) bool {
	switch t {
	case AuditEntityUser:
		return source == AuditSourceUserManagement
	case AuditEntityRecord:
		return source.IsValid() && source != AuditSourceUserManagement
	default:
		return false
	}
}
