package domain

import (
	"testing"
	"time"
)

func TestCatalogueTargetsDeriveFromLiquidBase(t *testing.T) {
	cat := BuiltInCatalogue()

	// Lemon 500 mL at density 1.01 weighs 505 g.
	if got := cat.TargetWeight("LEM-500-IE"); got < 504.9 || got > 505.1 {
		t.Fatalf("LEM-500-IE target weight = %v, want 505", got)
	}
	// Cola 2 L at density 1.04 weighs 2080 g.
	if got := cat.TargetWeight("COL-2L-IE"); got < 2079.9 || got > 2080.1 {
		t.Fatalf("COL-2L-IE target weight = %v, want 2080", got)
	}
}

func TestFillTimeFollowsLineFillRate(t *testing.T) {
	cat := BuiltInCatalogue()
	sku, _ := cat.Get("LEM-2L-IE")

	// 2000 mL at 120 mL/s.
	volumeML := 2000.0
	fillRate := 120.0
	want := time.Duration(volumeML / fillRate * float64(time.Second))
	if got := sku.FillTime(); got != want {
		t.Fatalf("fill time = %s, want %s", got, want)
	}
}

func TestSKUIndexEncoding(t *testing.T) {
	cat := BuiltInCatalogue()
	if got := cat.Index("LEM-200-IE"); got != 0 {
		t.Fatalf("first SKU index = %d", got)
	}
	if got := cat.Index("DC-500-UK"); got != 9 {
		t.Fatalf("last SKU index = %d", got)
	}
	if got := cat.Index("UNKNOWN"); got != SKUIndexIdle {
		t.Fatalf("unknown SKU must map to 0xFFFF, got %#x", got)
	}
}

func TestHazardFlagsMatchMasterData(t *testing.T) {
	cat := BuiltInCatalogue()
	for id, wantHazard := range map[string]bool{
		"DC-500-IE": true, "DC-500-UK": true, "LEM-500-IE": false, "COL-2L-IE": false,
	} {
		sku, ok := cat.Get(id)
		if !ok {
			t.Fatalf("missing SKU %s", id)
		}
		if sku.HazardRequired != wantHazard {
			t.Fatalf("%s hazard = %t, want %t", id, sku.HazardRequired, wantHazard)
		}
	}
}
