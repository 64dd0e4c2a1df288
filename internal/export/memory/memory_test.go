package memory

import (
	"context"
	"testing"

	"fleetledger/internal/export"
)

func TestStore_AppendSettlement(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref1, err := s.AppendSettlement(ctx, export.SettlementRow{TripID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	ref2, _ := s.AppendSettlement(ctx, export.SettlementRow{TripID: "t2"})
	again, _ := s.AppendSettlement(ctx, export.SettlementRow{TripID: "t1"})

	if ref1 != "mem:1" || ref2 != "mem:2" || again != ref1 {
		t.Errorf("refs = %s %s %s", ref1, ref2, again)
	}
	if n := len(s.Rows()); n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
	if _, err := s.AppendSettlement(ctx, export.SettlementRow{}); err == nil {
		t.Error("expected error for row without trip id")
	}
}
