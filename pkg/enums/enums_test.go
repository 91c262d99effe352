package enums

import "testing"

func TestParseReconciliationStatus(t *testing.T) {
	for _, s := range ReconciliationStatuses() {
		got, err := ParseReconciliationStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("round trip %q: got %q err %v", s, got, err)
		}
	}
	if _, err := ParseReconciliationStatus("matched"); err == nil {
		t.Fatal("expected lower-case status to be rejected")
	}
}

func TestUploadJobStatusTerminal(t *testing.T) {
	cases := map[UploadJobStatus]bool{
		UploadJobStatusUploaded:   false,
		UploadJobStatusProcessing: false,
		UploadJobStatusCompleted:  true,
		UploadJobStatusFailed:     true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: IsTerminal() = %v, want %v", status, got, want)
		}
	}
	if _, err := ParseUploadJobStatus("DONE"); err == nil {
		t.Fatal("expected unknown job status to be rejected")
	}
}

func TestParseDuplicateScope(t *testing.T) {
	cases := map[string]DuplicateScope{
		"":       DuplicateScopeJob,
		" JOB ":  DuplicateScopeJob,
		"Global": DuplicateScopeGlobal,
	}
	for raw, want := range cases {
		got, err := ParseDuplicateScope(raw)
		if err != nil || got != want {
			t.Fatalf("%q: got %q err %v", raw, got, err)
		}
	}
	if _, err := ParseDuplicateScope("tenant"); err == nil {
		t.Fatal("expected unknown scope to be rejected")
	}
}

func TestAuditEntityAllowsSource(t *testing.T) {
	if !AuditEntityUser.Allows(AuditSourceUserManagement) {
		t.Fatal("user entries must accept USER_MANAGEMENT")
	}
	if AuditEntityUser.Allows(AuditSourceManualEdit) {
		t.Fatal("user entries must reject record sources")
	}
	if AuditEntityRecord.Allows(AuditSourceUserManagement) {
		t.Fatal("record entries must reject USER_MANAGEMENT")
	}
	if !AuditEntityRecord.Allows(AuditSourceReconciliation) {
		t.Fatal("record entries must accept RECONCILIATION")
	}
	if AuditEntityType("ORDER").Allows(AuditSourceSystem) {
		t.Fatal("unknown entity types allow nothing")
	}
}

func TestParseUserRole(t *testing.T) {
	if r, err := ParseUserRole("analyst"); err != nil || r != UserRoleAnalyst {
		t.Fatalf("unexpected %q %v", r, err)
	}
	if _, err := ParseUserRole("owner"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}
