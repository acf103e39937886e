package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
)

// ErrSchedule tags schedule load/validation errors so the CLI can map them
// onto its exit code.
var ErrSchedule = errors.New("invalid schedule")

// ValidateSchedule enforces the block invariants: every block spans a
// positive interval, blocks are time-ordered, ORDER blocks never overlap
// each other, exclusive blocks (CHANGEOVER/CIP/LUNCH) never overlap
// anything, and BREAKDOWN blocks nest inside an ORDER. Order SKUs must
// exist in the catalogue.
func ValidateSchedule(blocks []domain.ScheduleBlock, cat *domain.Catalogue) error {
	var prevStart time.Time
	for i, b := range blocks {
		if !b.Start.Before(b.End) {
			return fmt.Errorf("%w: block %s: start not before end", ErrSchedule, b.ID)
		}
		if i > 0 && b.Start.Before(prevStart) {
			return fmt.Errorf("%w: block %s out of order", ErrSchedule, b.ID)
		}
		prevStart = b.Start

		switch b.Kind {
		case domain.BlockOrder:
			if _, ok := cat.Get(b.SKUID); !ok {
				return fmt.Errorf("%w: order %s references unknown SKU %s", ErrSchedule, b.ID, b.SKUID)
			}
			if b.PlannedQty == 0 {
				return fmt.Errorf("%w: order %s has zero planned qty", ErrSchedule, b.ID)
			}
		case domain.BlockChangeover:
			switch b.ChangeoverType {
			case "LABEL", "SIZE", "LIQUID":
			default:
				return fmt.Errorf("%w: changeover %s has invalid type %q", ErrSchedule, b.ID, b.ChangeoverType)
			}
		case domain.BlockBreakdown:
			if _, ok := BreakdownByCode(b.BreakdownCode); !ok {
				return fmt.Errorf("%w: breakdown %s has unknown code %q", ErrSchedule, b.ID, b.BreakdownCode)
			}
		case domain.BlockCIP, domain.BlockLunch:
		default:
			return fmt.Errorf("%w: block %s has unknown kind %q", ErrSchedule, b.ID, b.Kind)
		}
	}

	for i, a := range blocks {
		for _, b := range blocks[i+1:] {
			if !overlaps(a, b) {
				continue
			}
			if nests(a, b) || nests(b, a) {
				continue
			}
			return fmt.Errorf("%w: blocks %s and %s overlap", ErrSchedule, a.ID, b.ID)
		}
	}

	for _, b := range blocks {
		if b.Kind != domain.BlockBreakdown {
			continue
		}
		if !hasEnclosingOrder(blocks, b) {
			return fmt.Errorf("%w: breakdown %s is not inside an order", ErrSchedule, b.ID)
		}
	}
	return nil
}

func overlaps(a, b domain.ScheduleBlock) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// nests reports whether inner is a BREAKDOWN contained in the ORDER outer.
func nests(outer, inner domain.ScheduleBlock) bool {
	return outer.Kind == domain.BlockOrder && inner.Kind == domain.BlockBreakdown &&
		!inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

func hasEnclosingOrder(blocks []domain.ScheduleBlock, bd domain.ScheduleBlock) bool {
	for _, b := range blocks {
		if nests(b, bd) {
			return true
		}
	}
	return false
}

// weekEntry is one row of the built-in Production_Schedule sheet.
type weekEntry struct {
	day, shift int
	id         string
	kind       domain.BlockKind
	sku        string
	qty        uint32
	workMaster string

	coType   string
	coCode   string
	coMin    float64 // planned changeover minutes
	cipMin   float64
	brkMin   float64
	injectBD string
	cipAfter bool
	notes    string
}

var builtInWeek = []weekEntry{
	{day: 0, shift: 0, id: "ORD-001", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 4000, workMaster: "WM-002", notes: "Opening order"},
	{day: 0, shift: 0, id: "ORD-002", kind: domain.BlockOrder, sku: "LEM-200-IE", qty: 3000, workMaster: "WM-001", coType: "LABEL", coCode: "ST01", coMin: 25, notes: "Label changeover LBL-A"},
	{day: 0, shift: 0, id: "ORD-003", kind: domain.BlockOrder, sku: "LEM-2L-IE", qty: 1200, workMaster: "WM-003", coType: "SIZE", coCode: "ST02", coMin: 50, injectBD: "BD-M1", notes: "Size change 200→2L"},
	{day: 0, shift: 0, id: "CIP-001", kind: domain.BlockCIP, cipMin: 45},
	{day: 0, shift: 1, id: "ORD-004", kind: domain.BlockOrder, sku: "COL-500-IE", qty: 3800, workMaster: "WM-005", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "Liquid change Still→Cola"},
	{day: 0, shift: 1, id: "ORD-005", kind: domain.BlockOrder, sku: "DC-500-IE", qty: 2500, workMaster: "WM-006", injectBD: "BD-M2", notes: "Hazard SKU"},
	{day: 0, shift: 1, id: "ORD-006-BRK", kind: domain.BlockLunch, brkMin: 30, notes: "Lunch break"},
	{day: 0, shift: 1, id: "ORD-006", kind: domain.BlockOrder, sku: "COL-2L-IE", qty: 800, workMaster: "WM-005", coType: "SIZE", coCode: "ST02", coMin: 45, notes: "Size change 500→2L"},
	{day: 1, shift: 0, id: "ORD-007", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 5000, workMaster: "WM-002", coType: "LIQUID", coCode: "ST03", coMin: 90, injectBD: "BD-M3", notes: "Liquid change Cola→Lemon"},
	{day: 1, shift: 0, id: "ORD-008", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 4000, workMaster: "WM-002", notes: "Continuation same SKU"},
	{day: 1, shift: 0, id: "ORD-009", kind: domain.BlockOrder, sku: "LEM-6L-IE", qty: 300, workMaster: "WM-004", coType: "SIZE", coCode: "ST02", coMin: 55, cipAfter: true, notes: "6L format"},
	{day: 1, shift: 1, id: "ORD-010", kind: domain.BlockOrder, sku: "DC-500-UK", qty: 2000, workMaster: "WM-006", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "UK hazard variant"},
	{day: 1, shift: 1, id: "ORD-011", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 4500, workMaster: "WM-002", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "Long order, Cola→Still"},
	{day: 2, shift: 0, id: "ORD-012", kind: domain.BlockOrder, sku: "LEM-200-IE", qty: 5000, workMaster: "WM-001", coType: "SIZE", coCode: "ST02", coMin: 50, notes: "500→200mL"},
	{day: 2, shift: 0, id: "ORD-013", kind: domain.BlockOrder, sku: "LEM-2L-IE", qty: 1500, workMaster: "WM-003", coType: "SIZE", coCode: "ST02", coMin: 55, notes: "200→2L"},
	{day: 2, shift: 0, id: "ORD-014", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 3500, workMaster: "WM-002", coType: "SIZE", coCode: "ST02", coMin: 45, cipAfter: true},
	{day: 2, shift: 1, id: "ORD-015", kind: domain.BlockOrder, sku: "COL-500-IE", qty: 4000, workMaster: "WM-005", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "Still→Cola"},
	{day: 2, shift: 1, id: "ORD-015-BRK", kind: domain.BlockLunch, brkMin: 30},
	{day: 2, shift: 1, id: "ORD-016", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 3000, workMaster: "WM-002", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "Cola→Still"},
	{day: 3, shift: 0, id: "ORD-017", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 5000, workMaster: "WM-002", notes: "Long run"},
	{day: 3, shift: 1, id: "ORD-018", kind: domain.BlockOrder, sku: "DC-500-IE", qty: 3500, workMaster: "WM-006", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "Hazard run"},
	{day: 4, shift: 0, id: "ORD-019", kind: domain.BlockOrder, sku: "LEM-500-IE", qty: 4500, workMaster: "WM-002", coType: "LIQUID", coCode: "ST03", coMin: 90, notes: "End of week"},
	{day: 4, shift: 1, id: "ORD-020", kind: domain.BlockOrder, sku: "LEM-200-IE", qty: 4000, workMaster: "WM-001", coType: "SIZE", coCode: "ST02", coMin: 45, notes: "Final order"},
}

// orderPadding leaves room inside an order block for stops before the
// block end cuts the order short.
const orderPadding = 1.3

// BuiltInSchedule lays the Mon–Fri production plan out from weekStart
// (shift 1 starts at weekStart's time of day, shift 2 eight hours later).
// A LIQUID changeover is always followed by a CIP block; planned
// breakdowns nest 30% into their order with the nominal major duration.
func BuiltInSchedule(weekStart time.Time, cat *domain.Catalogue, majorDuration time.Duration) []domain.ScheduleBlock {
	var blocks []domain.ScheduleBlock
	cursors := map[[2]int]time.Time{}

	cursor := func(day, shift int) time.Time {
		key := [2]int{day, shift}
		if t, ok := cursors[key]; ok {
			return t
		}
		return weekStart.Add(time.Duration(day)*24*time.Hour + time.Duration(shift)*8*time.Hour)
	}
	advance := func(day, shift int, t time.Time) {
		cursors[[2]int{day, shift}] = t
	}

	for _, e := range builtInWeek {
		at := cursor(e.day, e.shift)

		switch e.kind {
		case domain.BlockCIP:
			end := at.Add(time.Duration(e.cipMin * float64(time.Minute)))
			blocks = append(blocks, domain.ScheduleBlock{
				ID: e.id, Kind: domain.BlockCIP, Start: at, End: end, Notes: e.notes,
			})
			at = end

		case domain.BlockLunch:
			end := at.Add(time.Duration(e.brkMin * float64(time.Minute)))
			blocks = append(blocks, domain.ScheduleBlock{
				ID: e.id, Kind: domain.BlockLunch, Start: at, End: end,
				ReasonID: 4, ReasonText: "Lunch Break", Notes: e.notes,
			})
			at = end

		case domain.BlockOrder:
			if e.coCode != "" {
				end := at.Add(time.Duration(e.coMin * float64(time.Minute)))
				blocks = append(blocks, domain.ScheduleBlock{
					ID: "CO-" + e.id, Kind: domain.BlockChangeover, Start: at, End: end,
					ChangeoverType: e.coType, ChangeoverCode: e.coCode,
				})
				at = end
				if e.coType == "LIQUID" {
					cipEnd := at.Add(45 * time.Minute)
					blocks = append(blocks, domain.ScheduleBlock{
						ID: "CIP-liq-" + e.id, Kind: domain.BlockCIP, Start: at, End: cipEnd,
					})
					at = cipEnd
				}
			}

			sku, _ := cat.Get(e.sku)
			nominal := time.Duration(float64(e.qty) / sku.NominalSpeedBPM * float64(time.Minute))
			end := at.Add(time.Duration(float64(nominal) * orderPadding))
			if e.injectBD != "" {
				end = end.Add(majorDuration)
			}
			blocks = append(blocks, domain.ScheduleBlock{
				ID: e.id, Kind: domain.BlockOrder, Start: at, End: end,
				SKUID: e.sku, PlannedQty: e.qty, WorkMasterID: e.workMaster, Notes: e.notes,
			})
			if e.injectBD != "" {
				bdStart := at.Add(time.Duration(float64(nominal) * 0.3))
				blocks = append(blocks, domain.ScheduleBlock{
					ID: "BD-" + e.id, Kind: domain.BlockBreakdown,
					Start: bdStart, End: bdStart.Add(majorDuration),
					BreakdownCode: e.injectBD,
				})
			}
			at = end

			if e.cipAfter {
				cipEnd := at.Add(45 * time.Minute)
				blocks = append(blocks, domain.ScheduleBlock{
					ID: "CIP-auto-" + e.id, Kind: domain.BlockCIP, Start: at, End: cipEnd,
				})
				at = cipEnd
			}
		}

		advance(e.day, e.shift, at)
	}

	sortBlocks(blocks)
	return blocks
}

func sortBlocks(blocks []domain.ScheduleBlock) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].Start.Before(blocks[j-1].Start); j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}
