package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/testhelpers"
)

func TestSaveAndListReports(t *testing.T) {
	store := testhelpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	older := report.New("http://a", time.Now().Add(-time.Hour), []report.Outcome{
		report.Pass("healthz.ok_true", "ok"),
	})
	newer := report.New("http://b", time.Now(), []report.Outcome{
		report.Pass("healthz.ok_true", "ok").WithPayload(map[string]any{"ok": true}),
		report.Fail("info.protocol_version", "expected 3, found %d", 2),
	})

	if _, err := store.SaveReport(ctx, older); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	id, err := store.SaveReport(ctx, newer)
	if err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	summaries, err := store.ListReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(summaries))
	}
	if summaries[0].ID != id || summaries[0].Failed != 1 || summaries[0].BaseURL != "http://b" {
		t.Fatalf("unexpected newest summary: %+v", summaries[0])
	}

	limited, err := store.ListReports(ctx, 1)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	outcomes, err := store.GetOutcomes(ctx, id)
	if err != nil {
		t.Fatalf("GetOutcomes failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Name != "healthz.ok_true" || !outcomes[0].Passed || string(outcomes[0].Payload) != `{"ok":true}` {
		t.Fatalf("unexpected first outcome: %+v", outcomes[0])
	}
	if outcomes[1].Passed || outcomes[1].Detail != "expected 3, found 2" {
		t.Fatalf("unexpected second outcome: %+v", outcomes[1])
	}
}

func TestGetOutcomesUnknownReport(t *testing.T) {
	store := testhelpers.NewTestSQLiteStore(t)

	outcomes, err := store.GetOutcomes(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetOutcomes failed: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("expected no outcomes, got %d", len(outcomes))
	}
}
