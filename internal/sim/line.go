package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

// Params are the simulator tunables, distilled from configuration.
type Params struct {
	Tick                       time.Duration
	SpeedFactor                float64
	BaseRejectProbability      float64
	RejectMix                  map[string]float64
	LabelStockInitialPct       float64
	LabelStockDepletionPer1000 float64
	ScaleStabilization         time.Duration
	MicrostopRates             map[string]float64 // per hour, by code
	MajorDuration              time.Duration
	MajorJitterPct             float64
	MinorLo                    time.Duration
	MinorHi                    time.Duration
	BottleSampleRate           float64 // share of GOOD completions emitted
}

// orderRun is the in-flight order.
type orderRun struct {
	block       domain.ScheduleBlock
	sku         domain.SKU
	start       time.Time
	startGood   uint32
	startReject uint32
}

// Simulator owns the tick loop: it is the only writer of the register
// bank, the counters, and the line state.
type Simulator struct {
	params Params
	clock  ports.Clock
	bank   *Bank
	events ports.EventWriter
	obs    ports.Observability
	rng    *rand.Rand
	cat    *domain.Catalogue
	sched  []domain.ScheduleBlock

	state      domain.LineState
	episode    *domain.StopEpisode
	episodeEnd time.Time
	episodeMS  *Microstop
	episodeBD  *Breakdown

	order       *orderRun
	orderSeq    uint16
	completed   map[string]bool // order block IDs already run to completion
	triggeredBD map[string]bool // breakdown block IDs already fired

	good   uint32
	reject uint32

	bottleAcc      float64
	completions    []time.Time
	stabilizeUntil time.Time

	labelStock  float64
	hazardStock float64
}

// NewSimulator wires a simulator over a validated schedule. The rand
// source is injected so runs are reproducible; all stochastic decisions
// flow from it.
func NewSimulator(p Params, clock ports.Clock, bank *Bank, events ports.EventWriter,
	obs ports.Observability, cat *domain.Catalogue, sched []domain.ScheduleBlock, rng *rand.Rand) *Simulator {
	if p.BottleSampleRate == 0 {
		p.BottleSampleRate = 0.02
	}
	if len(p.MicrostopRates) == 0 {
		p.MicrostopRates = DefaultMicrostopRates(480)
	}
	return &Simulator{
		params:      p,
		clock:       clock,
		bank:        bank,
		events:      events,
		obs:         obs,
		rng:         rng,
		cat:         cat,
		sched:       sched,
		state:       domain.StateIdle,
		completed:   make(map[string]bool),
		triggeredBD: make(map[string]bool),
		labelStock:  p.LabelStockInitialPct,
		hazardStock: p.LabelStockInitialPct,
	}
}

// State returns the current line state; tick goroutine only.
func (s *Simulator) State() domain.LineState { return s.state }

// Counters returns the monotonic good/reject totals; tick goroutine only.
func (s *Simulator) Counters() (good, reject uint32) { return s.good, s.reject }

// Run drives the tick loop until the schedule is exhausted or ctx is
// cancelled. It returns a fatal error only when the event log can no
// longer honour its durability contract.
func (s *Simulator) Run(ctx context.Context) error {
	s.initRegisters()
	s.bank.Commit()
	s.obs.LogInfo("simulation_starting", ports.Field{Key: "blocks", Value: len(s.sched)})

	for {
		if err := s.tick(); err != nil {
			return err
		}
		t := s.clock.Now()
		if s.order == nil && s.episode == nil && s.afterSchedule(t) {
			break
		}
		if err := s.clock.Sleep(ctx, s.params.Tick); err != nil {
			return s.shutdown()
		}
	}

	s.obs.LogInfo("schedule_complete",
		ports.Field{Key: "good", Value: s.good},
		ports.Field{Key: "reject", Value: s.reject})
	return s.shutdown()
}

// shutdown runs the terminal transition: close any open episode, return
// the line to IDLE, publish the final register image.
func (s *Simulator) shutdown() error {
	t := s.clock.Now()
	if s.episode != nil {
		if err := s.closeEpisode(t); err != nil {
			return err
		}
	}
	if s.state != domain.StateIdle {
		if err := s.emitStateChanged(s.state, domain.StateIdle, nil); err != nil {
			return err
		}
		s.state = domain.StateIdle
	}
	s.order = nil
	s.updateRegisters(t)
	s.bank.Commit()
	return nil
}

func (s *Simulator) afterSchedule(t time.Time) bool {
	for _, b := range s.sched {
		if t.Before(b.End) {
			return false
		}
	}
	return true
}

func (s *Simulator) initRegisters() {
	s.bank.SetUint16(RLineState, uint16(domain.StateIdle))
	s.bank.SetUint16(ROrderIdx, domain.SKUIndexIdle)
	s.bank.SetUint16(RSKUIdx, domain.SKUIndexIdle)
	s.bank.SetUint16(RSimSpeedX10, uint16(s.params.SpeedFactor*10))
	s.bank.SetUint16(RLabelStock, uint16(s.labelStock))
	s.bank.SetUint16(RHazardStock, uint16(s.hazardStock))
	s.bank.SetBool(RCapFeedOK, true)
	s.bank.SetBool(RLabelSensorOK, true)
	s.bank.SetBool(RBarcodeOK, true)
	s.bank.SetBool(RScaleStable, true)
	s.bank.SetBool(RTorqueInSpec, true)
}

// tick advances one virtual tick: resolve schedule blocks, sample
// stochastic triggers, arbitrate the state machine, produce bottles,
// publish registers.
func (s *Simulator) tick() error {
	t := s.clock.Now()

	orderBlock := s.activeBlock(t, domain.BlockOrder)
	auxBlock := s.activeAux(t)
	bdBlock := s.activeBlock(t, domain.BlockBreakdown)

	// An order terminates from any state, before this tick's arbitration.
	if s.order != nil {
		goodDelta := s.good - s.order.startGood
		if goodDelta >= s.order.block.PlannedQty || !t.Before(s.order.block.End) {
			if err := s.completeOrder(t); err != nil {
				return err
			}
		}
	}

	// Order start is only legal from IDLE.
	if s.state == domain.StateIdle && s.order == nil && orderBlock != nil &&
		auxBlock == nil && !s.completed[orderBlock.ID] {
		if err := s.beginOrder(t, *orderBlock); err != nil {
			return err
		}
	}

	pendingMS := s.sampleMicrostop(t, orderBlock, auxBlock, bdBlock)

	candidates := map[domain.LineState]bool{domain.StateIdle: true}
	if s.order != nil {
		candidates[domain.StateRunning] = true
	}
	if auxBlock != nil {
		switch auxBlock.Kind {
		case domain.BlockCIP:
			candidates[domain.StateCIP] = true
		case domain.BlockChangeover:
			candidates[domain.StateChangeover] = true
		case domain.BlockLunch:
			candidates[domain.StateStopped] = true
		}
	}
	// A planned breakdown triggers on its start timestamp exactly once.
	if bdBlock != nil && !s.triggeredBD[bdBlock.ID] {
		if bd, ok := BreakdownByCode(bdBlock.BreakdownCode); ok {
			if bd.Severity == "Major" {
				candidates[domain.StateFault] = true
			} else {
				candidates[domain.StateStopped] = true
			}
		}
	}
	if s.episode != nil && t.Before(s.episodeEnd) {
		candidates[s.episode.State] = true
	}
	if pendingMS != nil {
		candidates[domain.StateMicrostop] = true
	}

	target, changed := Select(s.state, candidates)
	if changed {
		if err := s.transition(t, target, pendingMS, auxBlock, bdBlock); err != nil {
			return err
		}
	}

	if s.state == domain.StateRunning && s.order != nil {
		if err := s.produce(t); err != nil {
			return err
		}
	}

	s.updateRegisters(t)
	s.bank.Commit()
	return nil
}

func (s *Simulator) activeBlock(t time.Time, kind domain.BlockKind) *domain.ScheduleBlock {
	for i := range s.sched {
		if s.sched[i].Kind == kind && s.sched[i].Covers(t) {
			return &s.sched[i]
		}
	}
	return nil
}

// activeAux returns the exclusive block covering t, if any.
func (s *Simulator) activeAux(t time.Time) *domain.ScheduleBlock {
	for i := range s.sched {
		switch s.sched[i].Kind {
		case domain.BlockChangeover, domain.BlockCIP, domain.BlockLunch:
			if s.sched[i].Covers(t) {
				return &s.sched[i]
			}
		}
	}
	return nil
}

// sampleMicrostop rolls one Bernoulli draw per microstop kind. Only while
// an order is RUNNING with no exclusive block, no planned breakdown, and
// no open episode.
func (s *Simulator) sampleMicrostop(t time.Time, orderBlock, auxBlock, bdBlock *domain.ScheduleBlock) *Microstop {
	if s.state != domain.StateRunning || s.order == nil || s.episode != nil {
		return nil
	}
	if auxBlock != nil || bdBlock != nil {
		return nil
	}
	tickSec := s.params.Tick.Seconds()
	for i := range Microstops {
		ms := &Microstops[i]
		rate := s.params.MicrostopRates[ms.Code]
		if ms.Code == "MS02" {
			rate *= MS02Bias(s.order.sku.SKUID)
		}
		p := rate / 3600 * tickSec
		if s.rng.Float64() < p {
			return ms
		}
	}
	return nil
}

// transition performs one state change: close the episode being left,
// open the episode being entered, then emit StateChanged. Lifecycle
// events always precede their StateChanged.
func (s *Simulator) transition(t time.Time, target domain.LineState, pendingMS *Microstop,
	auxBlock, bdBlock *domain.ScheduleBlock) error {
	from := s.state

	if s.episode != nil {
		if err := s.closeEpisode(t); err != nil {
			return err
		}
	}

	var entry *domain.StopEpisode
	switch target {
	case domain.StateMicrostop:
		if pendingMS == nil {
			return fmt.Errorf("microstop transition without a pending microstop")
		}
		fp := pendingMS.NewFingerprint(s.rng)
		dur := SampleMicrostopDuration(pendingMS, s.rng)
		entry = &domain.StopEpisode{
			StopCode: pendingMS.Code, State: target, Start: t,
			Fingerprint: fp, Station: pendingMS.Station,
		}
		s.episodeMS = pendingMS
		s.episodeEnd = t.Add(dur)
		pendingMS.Apply(s.bank, s.rng)
		s.obs.IncCounter("bottlesim_microstops_total", 1)
		if err := s.emit(domain.EventMicrostopStarted, map[string]any{
			"stopCode": pendingMS.Code, "fingerprint": fp,
		}); err != nil {
			return err
		}

	case domain.StateFault:
		bd, ok := BreakdownByCode(bdBlock.BreakdownCode)
		if !ok {
			return fmt.Errorf("fault transition with unknown breakdown %q", bdBlock.BreakdownCode)
		}
		entry = &domain.StopEpisode{
			StopCode: bd.StopCode, State: target, Start: t,
			FaultCode: bd.Code, Severity: bd.Severity, Station: bd.Station,
		}
		s.episodeBD = &bd
		nominal := bdBlock.End.Sub(bdBlock.Start)
		s.episodeEnd = t.Add(SampleMajorDuration(nominal, s.params.MajorJitterPct, s.rng))
		s.triggeredBD[bdBlock.ID] = true
		bd.Apply(s.bank)
		s.obs.IncCounter("bottlesim_faults_total", 1)
		if err := s.emit(domain.EventFaultRaised, map[string]any{
			"faultCode": bd.Code, "severity": bd.Severity, "station": bd.Station,
		}); err != nil {
			return err
		}
		if err := s.emit(domain.EventStopStarted, map[string]any{
			"stopCode": bd.StopCode, "reasonId": nil, "reasonText": bd.Name,
		}); err != nil {
			return err
		}

	case domain.StateStopped:
		entry = &domain.StopEpisode{State: target, Start: t}
		switch {
		case auxBlock != nil && auxBlock.Kind == domain.BlockLunch:
			entry.StopCode = "ST04"
			entry.ReasonID = auxBlock.ReasonID
			entry.ReasonText = auxBlock.ReasonText
			s.episodeEnd = auxBlock.End
		case bdBlock != nil:
			bd, _ := BreakdownByCode(bdBlock.BreakdownCode)
			entry.StopCode = bd.StopCode
			entry.ReasonText = bd.Name
			entry.Station = bd.Station
			s.episodeEnd = t.Add(SampleMinorDuration(s.params.MinorLo, s.params.MinorHi, s.rng))
			s.triggeredBD[bdBlock.ID] = true
		}
		payload := map[string]any{
			"stopCode": entry.StopCode, "reasonText": entry.ReasonText, "reasonId": nil,
		}
		if entry.ReasonID != 0 {
			payload["reasonId"] = entry.ReasonID
		}
		if err := s.emit(domain.EventStopStarted, payload); err != nil {
			return err
		}

	case domain.StateChangeover:
		entry = &domain.StopEpisode{
			StopCode: auxBlock.ChangeoverCode, State: target, Start: t,
			ReasonText: auxBlock.ChangeoverType,
		}
		s.episodeEnd = auxBlock.End
		if err := s.emit(domain.EventChangeoverStarted, map[string]any{
			"changeoverType": auxBlock.ChangeoverType, "stopCode": auxBlock.ChangeoverCode,
		}); err != nil {
			return err
		}

	case domain.StateCIP:
		entry = &domain.StopEpisode{State: target, Start: t}
		s.episodeEnd = auxBlock.End
		if err := s.emit(domain.EventCIPStarted, nil); err != nil {
			return err
		}
	}

	s.episode = entry
	if err := s.emitStateChanged(from, target, entry); err != nil {
		return err
	}
	s.state = target
	return nil
}

// closeEpisode emits the paired lifecycle end event for the open episode
// and reverts its forced signals.
func (s *Simulator) closeEpisode(t time.Time) error {
	ep := s.episode
	ep.End = t
	durMS := ep.DurationMS(t)

	switch ep.State {
	case domain.StateMicrostop:
		if s.episodeMS != nil {
			s.episodeMS.Revert(s.bank)
			s.episodeMS = nil
		}
		if err := s.emit(domain.EventMicrostopEnded, map[string]any{
			"stopCode": ep.StopCode, "fingerprint": ep.Fingerprint, "durationMs": durMS,
		}); err != nil {
			return err
		}

	case domain.StateFault:
		if s.episodeBD != nil {
			s.episodeBD.Revert(s.bank)
		}
		if err := s.emit(domain.EventFaultCleared, map[string]any{
			"faultCode": ep.FaultCode, "severity": ep.Severity,
			"station": ep.Station, "durationMs": durMS,
		}); err != nil {
			return err
		}
		s.episodeBD = nil
		if err := s.emit(domain.EventStopEnded, map[string]any{
			"stopCode": ep.StopCode, "durationMs": durMS, "reasonId": nil,
		}); err != nil {
			return err
		}

	case domain.StateStopped, domain.StateStarved, domain.StateBlocked:
		payload := map[string]any{
			"stopCode": ep.StopCode, "durationMs": durMS, "reasonId": nil,
		}
		if ep.ReasonID != 0 {
			payload["reasonId"] = ep.ReasonID
		}
		if err := s.emit(domain.EventStopEnded, payload); err != nil {
			return err
		}

	case domain.StateChangeover:
		if err := s.emit(domain.EventChangeoverCompleted, map[string]any{
			"changeoverType": ep.ReasonText, "stopCode": ep.StopCode, "durationMs": durMS,
		}); err != nil {
			return err
		}

	case domain.StateCIP:
		if err := s.emit(domain.EventCIPEnded, map[string]any{
			"durationMs": durMS,
		}); err != nil {
			return err
		}
	}

	s.episode = nil
	return nil
}

func (s *Simulator) beginOrder(t time.Time, block domain.ScheduleBlock) error {
	sku, ok := s.cat.Get(block.SKUID)
	if !ok {
		return fmt.Errorf("order %s references unknown SKU %s", block.ID, block.SKUID)
	}
	s.orderSeq++
	s.order = &orderRun{
		block:       block,
		sku:         sku,
		start:       t,
		startGood:   s.good,
		startReject: s.reject,
	}
	s.bottleAcc = 0

	s.obs.LogInfo("order_started",
		ports.Field{Key: "order", Value: block.ID},
		ports.Field{Key: "sku", Value: block.SKUID},
		ports.Field{Key: "qty", Value: block.PlannedQty})

	return s.emit(domain.EventOrderStarted, map[string]any{
		"plannedQty":     block.PlannedQty,
		"plannedStartTs": block.Start.UTC().Format(time.RFC3339),
		"plannedEndTs":   block.End.UTC().Format(time.RFC3339),
	})
}

// completeOrder terminates the active order from any state: the open
// episode closes first, then OrderCompleted, then the follow-up
// StateChanged → IDLE.
func (s *Simulator) completeOrder(t time.Time) error {
	if s.episode != nil {
		if err := s.closeEpisode(t); err != nil {
			return err
		}
	}

	run := s.order
	goodDelta := s.good - run.startGood
	rejectDelta := s.reject - run.startReject
	total := goodDelta + rejectDelta
	yield := 0.0
	if total > 0 {
		yield = float64(goodDelta) / float64(total)
	}
	durMS := t.Sub(run.start).Milliseconds()

	if err := s.emit(domain.EventOrderCompleted, map[string]any{
		"goodCountDelta":   goodDelta,
		"rejectCountDelta": rejectDelta,
		"durationMs":       durMS,
		"yield":            roundTo(yield, 4),
	}); err != nil {
		return err
	}
	s.obs.LogInfo("order_completed",
		ports.Field{Key: "order", Value: run.block.ID},
		ports.Field{Key: "good", Value: goodDelta},
		ports.Field{Key: "reject", Value: rejectDelta})

	if s.state != domain.StateIdle {
		if err := s.emitStateChanged(s.state, domain.StateIdle, nil); err != nil {
			return err
		}
		s.state = domain.StateIdle
	}
	s.completed[run.block.ID] = true
	s.order = nil
	return nil
}

// produce advances the bottle accumulator and processes completions.
// Counters only move here, and only while RUNNING.
func (s *Simulator) produce(t time.Time) error {
	sku := s.order.sku
	s.bottleAcc += sku.NominalSpeedBPM / 60.0 * s.params.Tick.Seconds()

	for s.bottleAcc >= 1.0 {
		s.bottleAcc -= 1.0
		if s.good-s.order.startGood >= s.order.block.PlannedQty {
			break
		}
		if err := s.processBottle(t); err != nil {
			return err
		}
	}
	return nil
}

// processBottle walks one bottle through every station, decides
// good/reject, updates counters and station registers, and emits the
// sampled BottleCompleted event.
func (s *Simulator) processBottle(t time.Time) error {
	sku := s.order.sku
	target := sku.TargetWeightG(s.cat.Bases)
	rejectReason := ""

	// Filler01: ±0.5% Gaussian noise against a ±2% acceptance window.
	actualW := target * (1 + s.rng.NormFloat64()*0.005)
	sign := 1.0
	if s.rng.Intn(2) == 0 {
		sign = -1.0
	}
	fillMS := float64(sku.FillTime().Milliseconds()) * (1 + sign*(0.02+s.rng.Float64()*0.03))
	weightOK := actualW >= target*0.98 && actualW <= target*1.02
	s.bank.SetFloat32(RActualWeight, actualW)
	s.bank.SetUint32(RFillTimeMS, uint32(fillMS))
	s.bank.SetFloat32(RGrossWeight, actualW)
	s.bank.SetBool(RWeightInSpec, weightOK)
	s.bank.SetBool(RDripSensor, s.rng.Float64() < 0.02)
	s.stabilizeUntil = t.Add(s.params.ScaleStabilization)
	if !weightOK {
		rejectReason = "weight"
	}

	// Capper01: ±1% noise against a ±5% window.
	actualT := sku.TorqueTargetNcm * (1 + s.rng.NormFloat64()*0.01)
	torqueOK := actualT >= sku.TorqueTargetNcm*0.95 && actualT <= sku.TorqueTargetNcm*1.05
	s.bank.SetFloat32(RTorqueActual, actualT)
	s.bank.SetBool(RTorqueInSpec, torqueOK)
	if !torqueOK && rejectReason == "" {
		rejectReason = "torque"
	}

	// Scanner01: 0.5% first-scan failure; only a tenth of those reject.
	barcodeOK := s.rng.Float64() > 0.005
	s.bank.SetBool(RBarcodeOK, barcodeOK)
	if barcodeOK {
		s.bank.SetUint16(RRescanCount, 0)
	} else {
		s.bank.SetUint16(RRescanCount, uint16(1+s.rng.Intn(2)))
		if s.rng.Float64() < 0.1 && rejectReason == "" {
			rejectReason = "barcode"
		}
	}

	// Labeller01 and consumables.
	s.bank.SetBool(RLabelApplied, true)
	s.labelStock -= s.params.LabelStockDepletionPer1000 / 1000
	if s.labelStock < 0 {
		s.labelStock = 0
	}

	// Labeller02 (hazard).
	if sku.HazardRequired {
		hazardOK := s.hazardStock > 2
		s.bank.SetBool(RHazardRequired, true)
		s.bank.SetBool(RHazardApplied, hazardOK)
		s.hazardStock -= s.params.LabelStockDepletionPer1000 / 1000
		if s.hazardStock < 0 {
			s.hazardStock = 0
		}
		if !hazardOK && rejectReason == "" {
			rejectReason = "hazard_label"
		}
	} else {
		s.bank.SetBool(RHazardRequired, false)
		s.bank.SetBool(RHazardApplied, false)
	}

	// Base quality reject, reason drawn from the configured mix.
	if rejectReason == "" && s.rng.Float64() < s.params.BaseRejectProbability {
		rejectReason = s.drawRejectReason()
	}

	isGood := rejectReason == ""

	// RejectPusher01.
	var cycleMS int
	if isGood {
		cycleMS = 200 + s.rng.Intn(301)
	} else {
		cycleMS = 500 + s.rng.Intn(301)
	}
	s.bank.SetUint32(RPusherCycleMS, uint32(cycleMS))
	s.bank.SetBool(RRejectTriggered, !isGood)
	s.bank.SetUint16(RRejectReason, domain.RejectReasonValue(rejectReason))

	if isGood {
		s.good++
		s.obs.IncCounter("bottlesim_bottles_good_total", 1)
	} else {
		s.reject++
		s.obs.IncCounter("bottlesim_bottles_reject_total", 1)
	}
	s.completions = append(s.completions, t)

	// 2% of GOOD completions sampled; every REJECT is emitted.
	sampled := !isGood || s.rng.Float64() < s.params.BottleSampleRate
	if !sampled {
		return nil
	}
	station := "Checkweigher01"
	payload := map[string]any{
		"result":  "GOOD",
		"station": station,
		"weight":  roundTo(actualW, 2),
		"torque":  roundTo(actualT, 2),
	}
	if !isGood {
		payload["result"] = "REJECT"
		payload["station"] = "RejectPusher01"
		payload["rejectReason"] = rejectReason
	}
	return s.emit(domain.EventBottleCompleted, payload)
}

func (s *Simulator) drawRejectReason() string {
	var total float64
	for _, w := range s.params.RejectMix {
		total += w
	}
	if total <= 0 {
		return "weight"
	}
	pick := s.rng.Float64() * total
	for _, reason := range []string{"weight", "torque", "barcode", "label", "hazard_label"} {
		pick -= s.params.RejectMix[reason]
		if pick < 0 {
			return reason
		}
	}
	return "weight"
}

// updateRegisters refreshes the line-level image for this tick. Station
// signals forced by an open episode are left alone until its Revert.
func (s *Simulator) updateRegisters(t time.Time) {
	s.bank.SetUint16(RLineState, s.state.RegisterCode())

	var stopCode, faultCode uint16
	if s.episode != nil {
		stopCode = domain.StopCodeValue(s.episode.StopCode)
		faultCode = domain.FaultCodeValue(s.episode.FaultCode)
	}
	s.bank.SetUint16(RStopCode, stopCode)
	s.bank.SetUint16(RFaultCode, faultCode)

	if s.order != nil {
		s.bank.SetUint16(ROrderIdx, s.orderSeq-1)
		s.bank.SetUint16(RSKUIdx, s.cat.Index(s.order.sku.SKUID))
		s.bank.SetUint16(ROrderSeq, s.orderSeq)
		s.bank.SetFloat32(RTargetWeight, s.order.sku.TargetWeightG(s.cat.Bases))
		s.bank.SetFloat32(RTorqueTarget, s.order.sku.TorqueTargetNcm)
	} else {
		s.bank.SetUint16(ROrderIdx, domain.SKUIndexIdle)
		s.bank.SetUint16(RSKUIdx, domain.SKUIndexIdle)
	}

	s.bank.SetUint32(RGoodCount, s.good)
	s.bank.SetUint32(RRejectCnt, s.reject)

	// line_speed_bpm from completions in the last rolling virtual second.
	cutoff := t.Add(-time.Second)
	kept := s.completions[:0]
	for _, c := range s.completions {
		if c.After(cutoff) {
			kept = append(kept, c)
		}
	}
	s.completions = kept
	if s.state == domain.StateRunning {
		s.bank.SetFloat32(RLineSpeed, float64(len(s.completions))*60)
		s.bank.SetFloat32(RInfeedRate, s.order.sku.NominalSpeedBPM*(1+s.rng.NormFloat64()*0.015))
		s.bank.SetBool(RBottlePresence, true)
	} else {
		s.bank.SetFloat32(RLineSpeed, 0)
		// A microstop's forced infeed rate survives until its Revert.
		if s.state != domain.StateMicrostop {
			s.bank.SetFloat32(RInfeedRate, 0)
		}
	}

	// scale_stable: stabilisation window after a fill, forced false by
	// MS02 and BD-M1 until their Revert.
	forced := (s.episodeMS != nil && s.episodeMS.Code == "MS02") ||
		(s.episodeBD != nil && s.episodeBD.Code == "BD-M1")
	if !forced {
		s.bank.SetBool(RScaleStable, !t.Before(s.stabilizeUntil) || s.state != domain.StateRunning)
	}

	s.bank.SetBool(RStarved, s.state == domain.StateStarved)
	s.bank.SetUint16(RLabelStock, clampPct(s.labelStock))
	s.bank.SetUint16(RHazardStock, clampPct(s.hazardStock))

	s.obs.SetGauge("bottlesim_line_state", float64(s.state.RegisterCode()))
	s.obs.SetGauge("bottlesim_good_count", float64(s.good))
	s.obs.SetGauge("bottlesim_reject_count", float64(s.reject))
}

func (s *Simulator) emitStateChanged(from, to domain.LineState, entry *domain.StopEpisode) error {
	payload := map[string]any{
		"fromState":   from.String(),
		"toState":     to.String(),
		"stopCode":    nil,
		"faultCode":   nil,
		"reasonId":    nil,
		"durationMs":  nil,
		"fingerprint": nil,
	}
	if entry != nil {
		if entry.StopCode != "" {
			payload["stopCode"] = entry.StopCode
		}
		if entry.FaultCode != "" {
			payload["faultCode"] = entry.FaultCode
		}
		if entry.ReasonID != 0 {
			payload["reasonId"] = entry.ReasonID
		}
		if entry.Fingerprint != nil {
			payload["fingerprint"] = entry.Fingerprint
		}
	}
	return s.emit(domain.EventStateChanged, payload)
}

func (s *Simulator) emit(eventType string, payload map[string]any) error {
	var orderID, sku string
	if s.order != nil {
		orderID = s.order.block.ID
		sku = s.order.sku.SKUID
	}
	evt := domain.NewEvent(eventType, orderID, sku, payload)
	if err := s.events.Emit(evt); err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	return nil
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	rounded := float64(int64(v*scale + 0.5))
	return rounded / scale
}

func clampPct(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return uint16(v)
}
