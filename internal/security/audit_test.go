package security

import "testing"

func TestAuditLoggerRecordsAndQueries(t *testing.T) {
	store := NewMemoryAuditStore()
	logger := NewAuditLogger(store)

	logger.Log(AuditSubmissionReceived, SeverityInfo, "exec-1", "u1", "submit", "a1", true, nil)
	logger.LogError(AuditPreflightFailed, "exec-1", "system", "preflight", "a1", "missing file", map[string]string{"missing_file": "main.py"})

	events, err := logger.Query(AuditFilter{ExecutionID: "exec-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Query returns most recent first.
	if events[0].Type != AuditPreflightFailed || events[0].Success {
		t.Errorf("unexpected first event: %+v", events[0])
	}
}

func TestAuditLoggerFiltersBySeverity(t *testing.T) {
	store := NewMemoryAuditStore()
	logger := NewAuditLogger(store)

	logger.Log(AuditSubmissionReceived, SeverityInfo, "exec-1", "u1", "submit", "a1", true, nil)
	logger.Log(AuditSubmissionBlocked, SeverityCritical, "exec-2", "u2", "submit", "a1", false, nil)

	events, err := logger.Query(AuditFilter{Severity: SeverityCritical})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].ExecutionID != "exec-2" {
		t.Fatalf("unexpected filtered events: %+v", events)
	}
}

func TestAuditLoggerCount(t *testing.T) {
	logger := NewAuditLogger(NewMemoryAuditStore())
	logger.Log(AuditSubmissionReceived, SeverityInfo, "exec-1", "u1", "submit", "a1", true, nil)
	logger.Log(AuditSubmissionReceived, SeverityInfo, "exec-2", "u2", "submit", "a1", true, nil)

	n, err := logger.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestAuditLoggerNoStoreConfigured(t *testing.T) {
	logger := NewAuditLogger(nil)
	if _, err := logger.Query(AuditFilter{}); err == nil {
		t.Fatal("expected error querying with no store configured")
	}
	n, err := logger.Count()
	if err != nil || n != 0 {
		t.Fatalf("Count with nil store = %d, %v", n, err)
	}
}
