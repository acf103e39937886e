package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
)

func weekStart() time.Time {
	return time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)
}

func TestBuiltInScheduleValidates(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	blocks := BuiltInSchedule(weekStart(), cat, 60*time.Minute)

	if err := ValidateSchedule(blocks, cat); err != nil {
		t.Fatalf("built-in schedule must validate: %v", err)
	}

	var orders, breakdowns, cips, lunches int
	for _, b := range blocks {
		switch b.Kind {
		case domain.BlockOrder:
			orders++
		case domain.BlockBreakdown:
			breakdowns++
		case domain.BlockCIP:
			cips++
		case domain.BlockLunch:
			lunches++
		}
	}
	if orders != 20 {
		t.Fatalf("expected 20 orders, got %d", orders)
	}
	if breakdowns != 3 {
		t.Fatalf("expected 3 injected breakdowns, got %d", breakdowns)
	}
	if lunches != 2 {
		t.Fatalf("expected 2 lunch breaks, got %d", lunches)
	}
	if cips < 3 {
		t.Fatalf("expected at least the 3 planned CIP blocks, got %d", cips)
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	at := weekStart()
	blocks := []domain.ScheduleBlock{
		{ID: "ORD-A", Kind: domain.BlockOrder, SKUID: "LEM-500-IE", PlannedQty: 100,
			Start: at, End: at.Add(time.Hour)},
		{ID: "CIP-A", Kind: domain.BlockCIP,
			Start: at.Add(30 * time.Minute), End: at.Add(90 * time.Minute)},
	}
	err := ValidateSchedule(blocks, cat)
	if !errors.Is(err, ErrSchedule) {
		t.Fatalf("expected ErrSchedule for overlap, got %v", err)
	}
}

func TestValidateRejectsOutOfOrderBlocks(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	at := weekStart()
	blocks := []domain.ScheduleBlock{
		{ID: "CIP-B", Kind: domain.BlockCIP, Start: at.Add(2 * time.Hour), End: at.Add(3 * time.Hour)},
		{ID: "ORD-B", Kind: domain.BlockOrder, SKUID: "LEM-500-IE", PlannedQty: 100,
			Start: at, End: at.Add(time.Hour)},
	}
	if err := ValidateSchedule(blocks, cat); !errors.Is(err, ErrSchedule) {
		t.Fatalf("expected ErrSchedule for ordering, got %v", err)
	}
}

func TestValidateRequiresBreakdownInsideOrder(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	at := weekStart()
	blocks := []domain.ScheduleBlock{
		{ID: "BD-X", Kind: domain.BlockBreakdown, BreakdownCode: "BD-M1",
			Start: at, End: at.Add(time.Hour)},
	}
	if err := ValidateSchedule(blocks, cat); !errors.Is(err, ErrSchedule) {
		t.Fatalf("expected ErrSchedule for orphan breakdown, got %v", err)
	}
}

func TestValidateAllowsBreakdownNestedInOrder(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	at := weekStart()
	blocks := []domain.ScheduleBlock{
		{ID: "ORD-C", Kind: domain.BlockOrder, SKUID: "LEM-500-IE", PlannedQty: 1000,
			Start: at, End: at.Add(3 * time.Hour)},
		{ID: "BD-C", Kind: domain.BlockBreakdown, BreakdownCode: "BD-M2",
			Start: at.Add(time.Hour), End: at.Add(2 * time.Hour)},
	}
	if err := ValidateSchedule(blocks, cat); err != nil {
		t.Fatalf("nested breakdown must validate: %v", err)
	}
}

func TestValidateRejectsUnknownSKU(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	at := weekStart()
	blocks := []domain.ScheduleBlock{
		{ID: "ORD-D", Kind: domain.BlockOrder, SKUID: "NOPE-1L", PlannedQty: 10,
			Start: at, End: at.Add(time.Hour)},
	}
	if err := ValidateSchedule(blocks, cat); !errors.Is(err, ErrSchedule) {
		t.Fatalf("expected ErrSchedule for unknown SKU, got %v", err)
	}
}

func TestLiquidChangeoverIsFollowedByCIP(t *testing.T) {
	cat := domain.BuiltInCatalogue()
	blocks := BuiltInSchedule(weekStart(), cat, 60*time.Minute)

	for i, b := range blocks {
		if b.Kind != domain.BlockChangeover || b.ChangeoverType != "LIQUID" {
			continue
		}
		found := false
		for _, next := range blocks[i+1:] {
			if next.Kind == domain.BlockCIP && next.Start.Equal(b.End) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("liquid changeover %s has no CIP block at its end", b.ID)
		}
	}
}
