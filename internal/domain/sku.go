package domain

import "time"

// FillRateMLPerSec is the line-wide nominal filler throughput.
const FillRateMLPerSec = 120.0

// LiquidBase is a bulk liquid recipe shared by several SKUs.
type LiquidBase struct {
	BaseID         string
	Name           string
	DensityGPerML  float64
	Carbonated     bool
	CIPAfterOrders int // 0 means CIP always follows a liquid change
}

// SKU is one saleable bottle format. Targets derive from the liquid base.
type SKU struct {
	SKUID           string
	Name            string
	LiquidBaseID    string
	VolumeML        float64
	TorqueTargetNcm float64
	HazardRequired  bool
	Market          string
	LabelGroup      string
	NominalSpeedBPM float64
	WorkMasterID    string
}

// TargetWeightG is the fill target in grams: volume × base density.
func (s SKU) TargetWeightG(bases map[string]LiquidBase) float64 {
	base, ok := bases[s.LiquidBaseID]
	if !ok {
		return s.VolumeML
	}
	return s.VolumeML * base.DensityGPerML
}

// FillTime is the nominal fill duration at the line fill rate.
func (s SKU) FillTime() time.Duration {
	return time.Duration(s.VolumeML / FillRateMLPerSec * float64(time.Second))
}

// Catalogue is the read-only SKU/BOM table supplied by the master-data
// loader. Index order is the published sku_index encoding.
type Catalogue struct {
	Bases map[string]LiquidBase
	SKUs  map[string]SKU
	Order []string // index → sku_id
}

// SKUIndexIdle is published in order_index/sku_index when no order is active.
const SKUIndexIdle uint16 = 0xFFFF

// Get returns the SKU for an id, or false when unknown.
func (c *Catalogue) Get(skuID string) (SKU, bool) {
	s, ok := c.SKUs[skuID]
	return s, ok
}

// Index returns the 0-based register index of a SKU, SKUIndexIdle if unknown.
func (c *Catalogue) Index(skuID string) uint16 {
	for i, id := range c.Order {
		if id == skuID {
			return uint16(i)
		}
	}
	return SKUIndexIdle
}

// TargetWeight resolves the fill target for a SKU id.
func (c *Catalogue) TargetWeight(skuID string) float64 {
	s, ok := c.SKUs[skuID]
	if !ok {
		return 0
	}
	return s.TargetWeightG(c.Bases)
}

// BuiltInCatalogue mirrors the Material_Defs master data.
func BuiltInCatalogue() *Catalogue {
	bases := map[string]LiquidBase{
		"BASE-LEM": {BaseID: "BASE-LEM", Name: "Lemon Base", DensityGPerML: 1.01, Carbonated: false, CIPAfterOrders: 4},
		"BASE-DL":  {BaseID: "BASE-DL", Name: "Diet Lemon Base", DensityGPerML: 1.02, Carbonated: false, CIPAfterOrders: 4},
		"BASE-COL": {BaseID: "BASE-COL", Name: "Cola Base", DensityGPerML: 1.04, Carbonated: true, CIPAfterOrders: 0},
		"BASE-DC":  {BaseID: "BASE-DC", Name: "Diet Cola Base", DensityGPerML: 1.02, Carbonated: true, CIPAfterOrders: 0},
	}
	skus := map[string]SKU{
		"LEM-200-IE": {SKUID: "LEM-200-IE", Name: "Lemon 200mL", LiquidBaseID: "BASE-LEM", VolumeML: 200, TorqueTargetNcm: 32, Market: "IE", LabelGroup: "LBL-A", NominalSpeedBPM: 120, WorkMasterID: "WM-001"},
		"LEM-500-IE": {SKUID: "LEM-500-IE", Name: "Lemon 500mL", LiquidBaseID: "BASE-LEM", VolumeML: 500, TorqueTargetNcm: 34, Market: "IE", LabelGroup: "LBL-A", NominalSpeedBPM: 100, WorkMasterID: "WM-002"},
		"LEM-2L-IE":  {SKUID: "LEM-2L-IE", Name: "Lemon 2L", LiquidBaseID: "BASE-LEM", VolumeML: 2000, TorqueTargetNcm: 36, Market: "IE", LabelGroup: "LBL-A", NominalSpeedBPM: 60, WorkMasterID: "WM-003"},
		"LEM-6L-IE":  {SKUID: "LEM-6L-IE", Name: "Lemon 6L", LiquidBaseID: "BASE-LEM", VolumeML: 6000, TorqueTargetNcm: 40, Market: "IE", LabelGroup: "LBL-A", NominalSpeedBPM: 30, WorkMasterID: "WM-004"},
		"DL-200-IE":  {SKUID: "DL-200-IE", Name: "Diet Lemon 200mL", LiquidBaseID: "BASE-DL", VolumeML: 200, TorqueTargetNcm: 32, Market: "IE", LabelGroup: "LBL-B", NominalSpeedBPM: 120, WorkMasterID: "WM-001"},
		"DL-500-IE":  {SKUID: "DL-500-IE", Name: "Diet Lemon 500mL", LiquidBaseID: "BASE-DL", VolumeML: 500, TorqueTargetNcm: 34, Market: "IE", LabelGroup: "LBL-B", NominalSpeedBPM: 100, WorkMasterID: "WM-002"},
		"COL-500-IE": {SKUID: "COL-500-IE", Name: "Cola 500mL", LiquidBaseID: "BASE-COL", VolumeML: 500, TorqueTargetNcm: 34, Market: "IE", LabelGroup: "LBL-C", NominalSpeedBPM: 95, WorkMasterID: "WM-005"},
		"COL-2L-IE":  {SKUID: "COL-2L-IE", Name: "Cola 2L", LiquidBaseID: "BASE-COL", VolumeML: 2000, TorqueTargetNcm: 36, Market: "IE", LabelGroup: "LBL-C", NominalSpeedBPM: 55, WorkMasterID: "WM-005"},
		"DC-500-IE":  {SKUID: "DC-500-IE", Name: "Diet Cola 500mL IE", LiquidBaseID: "BASE-DC", VolumeML: 500, TorqueTargetNcm: 34, HazardRequired: true, Market: "IE", LabelGroup: "LBL-D", NominalSpeedBPM: 95, WorkMasterID: "WM-006"},
		"DC-500-UK":  {SKUID: "DC-500-UK", Name: "Diet Cola 500mL UK", LiquidBaseID: "BASE-DC", VolumeML: 500, TorqueTargetNcm: 34, HazardRequired: true, Market: "UK", LabelGroup: "LBL-E", NominalSpeedBPM: 95, WorkMasterID: "WM-006"},
	}
	order := []string{
		"LEM-200-IE", "LEM-500-IE", "LEM-2L-IE", "LEM-6L-IE",
		"DL-200-IE", "DL-500-IE", "COL-500-IE", "COL-2L-IE",
		"DC-500-IE", "DC-500-UK",
	}
	return &Catalogue{Bases: bases, SKUs: skus, Order: order}
}
