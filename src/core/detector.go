package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Detector thresholds. Flag thresholds admit a result; escalate thresholds
// additionally mark it for governance review.
const (
	autoFlagConfidence = 0.70

	artificialMinEdges      = 3
	artificialFlagLevel     = 0.60
	artificialEscalateLevel = 0.80

	maxRingSize   = 10
	minRingLength = 3

	rapidEdgesPerHour  = 5.0
	rapidWeightPerHour = 200.0
	rapidFlagLevel     = 0.80
	rapidEscalateLevel = 0.90

	boostMinBucketEdges   = 3
	boostLargeBucket      = 5
	boostSameClusterRatio = 0.30
	boostFlagLevel        = 0.75
	boostEscalateLevel    = 0.85

	sybilDensityThreshold = 0.30
	sybilMinIntraEdges    = 3

	washFlagLevel     = 0.70
	washEscalateLevel = 0.85

	reciprocalMaxWeightDiff   = 10
	reciprocalMaxTimeDiffSecs = 3600
	reciprocalMaxActivity     = 10
	reciprocalFlagLevel       = 0.65
	reciprocalEscalateLevel   = 0.80

	genuineMinAgeSecs        = 7 * 24 * 3600
	genuineMinActivity       = 5
	genuineMinCounterparties = 3

	flaggedPartyConfidence = 0.80
	sameClusterConfidence  = 0.95
	quickReciprocalMaxDiff = 5
	quickReciprocalLevel   = 0.75
)

// DetectorConfig carries the calibration windows the detectors use. Their
// tuning is a governance decision, so they are config rather than
// constants.
type DetectorConfig struct {
	// TrustWashWindow bounds how recently a truster must have been created
	// before its edge counts as washing.
	TrustWashWindow time.Duration
	// BoostWindow is the bucket width for coordinated boost detection.
	BoostWindow time.Duration
	// RapidWindow is the trailing window for accumulation-rate checks.
	RapidWindow time.Duration
}

// DefaultDetectorConfig returns the standard calibration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TrustWashWindow: 24 * time.Hour,
		BoostWindow:     time.Hour,
		RapidWindow:     24 * time.Hour,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig()
	if c.TrustWashWindow <= 0 {
		c.TrustWashWindow = d.TrustWashWindow
	}
	if c.BoostWindow <= 0 {
		c.BoostWindow = d.BoostWindow
	}
	if c.RapidWindow <= 0 {
		c.RapidWindow = d.RapidWindow
	}
	return c
}

// TrustManipulationDetector runs statistical and graph heuristics over an
// address's trust relationships and maintains the flagged-address index.
// The index is rebuilt from the store at construction, so flags survive a
// restart.
type TrustManipulationDetector struct {
	store     Store
	graph     TrustGraph
	clusterer WalletClusterer
	oracle    ActivityOracle
	cfg       DetectorConfig

	mu      sync.RWMutex
	flagged map[string]TrustManipulationResult

	now func() int64
}

// NewTrustManipulationDetector wires a detector and loads persisted flags.
func NewTrustManipulationDetector(store Store, graph TrustGraph, clusterer WalletClusterer, oracle ActivityOracle, cfg DetectorConfig) *TrustManipulationDetector {
	d := &TrustManipulationDetector{
		store:     store,
		graph:     graph,
		clusterer: clusterer,
		oracle:    oracle,
		cfg:       cfg.withDefaults(),
		flagged:   make(map[string]TrustManipulationResult),
		now:       func() int64 { return time.Now().Unix() },
	}
	d.loadFlaggedAddresses()
	return d
}

// loadFlaggedAddresses rebuilds the in-memory flag index by prefix scan.
// Malformed records are skipped.
func (d *TrustManipulationDetector) loadFlaggedAddresses() {
	keys, err := d.store.ListKeysWithPrefix(flaggedAddrPrefix)
	if err != nil {
		logger.Error("Failed to scan flagged addresses", "error", err)
		return
	}
	loaded := 0
	for _, key := range keys {
		data, found, err := d.store.Get(key)
		if err != nil || !found {
			continue
		}
		var result TrustManipulationResult
		if err := json.Unmarshal(data, &result); err != nil {
			logger.Warn("Skipping malformed flagged address record", "key", key, "error", err)
			continue
		}
		d.flagged[key[len(flaggedAddrPrefix):]] = result
		loaded++
	}
	SetFlaggedAddressCount(loaded)
	logger.Info("Loaded flagged address index", "count", loaded)
}

// AnalyzeAddress runs all seven detectors against addr and returns the
// highest-confidence finding. Findings at or above the auto-flag level are
// persisted.
func (d *TrustManipulationDetector) AnalyzeAddress(addr string) TrustManipulationResult {
	best := TrustManipulationResult{Type: ManipulationNone}
	for _, detect := range []func(string) TrustManipulationResult{
		d.DetectArtificialPathCreation,
		d.DetectCircularTrustRing,
		d.DetectRapidTrustAccumulation,
		d.DetectCoordinatedTrustBoost,
		d.DetectSybilTrustNetwork,
		d.DetectTrustWashing,
		d.DetectReciprocalTrustAbuse,
	} {
		result := detect(addr)
		if result.Type != ManipulationNone && result.Confidence > best.Confidence {
			best = result
		}
	}

	if best.Type != ManipulationNone {
		RecordManipulationDetection(string(best.Type))
		logger.Warn("Trust manipulation detected",
			"address", addr, "type", best.Type,
			"confidence", best.Confidence, "escalate", best.EscalateToDAO)
		if best.Confidence >= autoFlagConfidence {
			d.FlagAddress(addr, best)
		}
	}
	return best
}

// AnalyzeTrustEdge screens a single new edge before it enters the graph:
// edges touching flagged addresses, intra-cluster edges, and quick
// reciprocal pairs are reported without a full address analysis.
func (d *TrustManipulationDetector) AnalyzeTrustEdge(edge TrustEdge) TrustManipulationResult {
	for _, party := range []string{edge.From, edge.To} {
		if prior, flagged := d.FlaggedResult(party); flagged {
			return TrustManipulationResult{
				Type:              prior.Type,
				Confidence:        flaggedPartyConfidence,
				InvolvedAddresses: []string{edge.From, edge.To},
				SuspiciousEdges:   []TrustEdge{edge},
				Description:       fmt.Sprintf("edge involves flagged address %s", party),
				EscalateToDAO:     true,
			}
		}
	}

	fromCluster, fromOK := d.clusterer.ClusterForAddress(edge.From)
	toCluster, toOK := d.clusterer.ClusterForAddress(edge.To)
	if fromOK && toOK && fromCluster == toCluster {
		return TrustManipulationResult{
			Type:              SybilTrustNetwork,
			Confidence:        sameClusterConfidence,
			InvolvedAddresses: []string{edge.From, edge.To},
			SuspiciousEdges:   []TrustEdge{edge},
			Description:       "trust edge between members of the same wallet cluster",
			EscalateToDAO:     true,
		}
	}

	if reverse, ok := d.graph.EdgeBetween(edge.To, edge.From); ok {
		weightDiff := edge.Weight - reverse.Weight
		if weightDiff < 0 {
			weightDiff = -weightDiff
		}
		timeDiff := edge.Timestamp - reverse.Timestamp
		if timeDiff < 0 {
			timeDiff = -timeDiff
		}
		if weightDiff <= quickReciprocalMaxDiff && timeDiff <= reciprocalMaxTimeDiffSecs {
			return TrustManipulationResult{
				Type:              ReciprocalTrustAbuse,
				Confidence:        quickReciprocalLevel,
				InvolvedAddresses: []string{edge.From, edge.To},
				SuspiciousEdges:   []TrustEdge{edge, reverse},
				Description:       "near-identical reciprocal trust edges",
				EscalateToDAO:     false,
			}
		}
	}

	return TrustManipulationResult{Type: ManipulationNone}
}

// DetectArtificialPathCreation flags addresses whose incoming edges are
// time-clustered, weight-similar, and come from sources without genuine
// history.
func (d *TrustManipulationDetector) DetectArtificialPathCreation(addr string) TrustManipulationResult {
	edges := d.graph.IncomingEdges(addr)
	if len(edges) < artificialMinEdges {
		return TrustManipulationResult{Type: ManipulationNone}
	}

	timestamps := make([]float64, 0, len(edges))
	weights := make([]float64, 0, len(edges))
	for _, e := range edges {
		timestamps = append(timestamps, float64(e.Timestamp))
		weights = append(weights, float64(e.Weight))
	}
	gaps := make([]float64, 0, len(timestamps)-1)
	sort.Float64s(timestamps)
	for i := 1; i < len(timestamps); i++ {
		gaps = append(gaps, timestamps[i]-timestamps[i-1])
	}
	timeScore := 1 - coefficientOfVariation(gaps)
	if timeScore < 0 {
		timeScore = 0
	}
	weightScore := 1 - stddev(weights)/50
	if weightScore < 0 {
		weightScore = 0
	}

	suspicious := 0
	involved := []string{addr}
	var suspiciousEdges []TrustEdge
	for _, e := range edges {
		if !d.hasGenuineHistory(e.From) {
			suspicious++
			involved = append(involved, e.From)
			suspiciousEdges = append(suspiciousEdges, e)
		}
	}
	sourceRatio := float64(suspicious) / float64(len(edges))

	confidence := 0.3*timeScore + 0.3*weightScore + 0.4*sourceRatio
	if confidence < artificialFlagLevel {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	return TrustManipulationResult{
		Type:              ArtificialPathCreation,
		Confidence:        confidence,
		InvolvedAddresses: involved,
		SuspiciousEdges:   suspiciousEdges,
		Description: fmt.Sprintf("%d of %d incoming edges from sources without genuine history",
			suspicious, len(edges)),
		EscalateToDAO: confidence >= artificialEscalateLevel,
	}
}

// hasGenuineHistory reports whether addr looks like an organically used
// address: old enough, active enough, with enough distinct counterparties.
func (d *TrustManipulationDetector) hasGenuineHistory(addr string) bool {
	firstSeen := d.oracle.FirstSeenTime(addr)
	if firstSeen == 0 || d.now()-firstSeen < genuineMinAgeSecs {
		return false
	}
	if d.oracle.ActivityCount(addr) < genuineMinActivity {
		return false
	}
	counterparties := make(map[string]struct{})
	for _, e := range d.graph.IncomingEdges(addr) {
		counterparties[e.From] = struct{}{}
	}
	for _, e := range d.graph.OutgoingEdges(addr) {
		counterparties[e.To] = struct{}{}
	}
	return len(counterparties) >= genuineMinCounterparties
}

// DetectCircularTrustRing looks for a trust cycle of length at least three
// passing through addr, bounded at maxRingSize hops.
func (d *TrustManipulationDetector) DetectCircularTrustRing(addr string) TrustManipulationResult {
	ring := d.findRing(addr, addr, []string{addr}, map[string]struct{}{addr: {}})
	if len(ring) < minRingLength {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	confidence := 0.70 + 0.30*(1-float64(len(ring))/float64(maxRingSize))
	var edges []TrustEdge
	for i := range ring {
		next := ring[(i+1)%len(ring)]
		if e, ok := d.graph.EdgeBetween(ring[i], next); ok {
			edges = append(edges, e)
		}
	}
	return TrustManipulationResult{
		Type:              CircularTrustRing,
		Confidence:        confidence,
		InvolvedAddresses: ring,
		SuspiciousEdges:   edges,
		Description:       fmt.Sprintf("circular trust ring of length %d", len(ring)),
		EscalateToDAO:     true,
	}
}

// findRing is a depth-bounded DFS following outgoing edges; it returns the
// first cycle of length >= minRingLength that closes back to start.
func (d *TrustManipulationDetector) findRing(start, current string, path []string, visited map[string]struct{}) []string {
	if len(path) > maxRingSize {
		return nil
	}
	for _, e := range d.graph.OutgoingEdges(current) {
		if e.To == start && len(path) >= minRingLength {
			return append([]string(nil), path...)
		}
		if _, seen := visited[e.To]; seen {
			continue
		}
		visited[e.To] = struct{}{}
		if ring := d.findRing(start, e.To, append(path, e.To), visited); ring != nil {
			return ring
		}
	}
	return nil
}

// DetectRapidTrustAccumulation compares the trailing-window incoming edge
// and weight rates against fixed per-hour thresholds.
func (d *TrustManipulationDetector) DetectRapidTrustAccumulation(addr string) TrustManipulationResult {
	cutoff := d.now() - int64(d.cfg.RapidWindow/time.Second)
	var recent []TrustEdge
	totalWeight := 0
	for _, e := range d.graph.IncomingEdges(addr) {
		if e.Timestamp >= cutoff {
			recent = append(recent, e)
			if e.Weight > 0 {
				totalWeight += e.Weight
			}
		}
	}
	if len(recent) == 0 {
		return TrustManipulationResult{Type: ManipulationNone}
	}

	hours := d.cfg.RapidWindow.Hours()
	edgeRate := float64(len(recent)) / hours / rapidEdgesPerHour
	weightRate := float64(totalWeight) / hours / rapidWeightPerHour
	if edgeRate > 1 {
		edgeRate = 1
	}
	if weightRate > 1 {
		weightRate = 1
	}
	confidence := (edgeRate + weightRate) / 2
	if confidence < rapidFlagLevel {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	return TrustManipulationResult{
		Type:              RapidTrustAccumulation,
		Confidence:        confidence,
		InvolvedAddresses: []string{addr},
		SuspiciousEdges:   recent,
		Description: fmt.Sprintf("%d incoming edges totalling %d weight inside %s",
			len(recent), totalWeight, d.cfg.RapidWindow),
		EscalateToDAO: confidence >= rapidEscalateLevel,
	}
}

// DetectCoordinatedTrustBoost buckets incoming edges by time window and
// flags buckets whose sources pair up within the same wallet cluster, or
// that are simply too dense.
func (d *TrustManipulationDetector) DetectCoordinatedTrustBoost(addr string) TrustManipulationResult {
	edges := d.graph.IncomingEdges(addr)
	if len(edges) < boostMinBucketEdges {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	bucketSecs := int64(d.cfg.BoostWindow / time.Second)
	buckets := make(map[int64][]TrustEdge)
	for _, e := range edges {
		buckets[e.Timestamp/bucketSecs] = append(buckets[e.Timestamp/bucketSecs], e)
	}

	flaggedEdges := 0
	involvedSet := map[string]struct{}{addr: {}}
	var suspicious []TrustEdge
	for _, bucket := range buckets {
		if len(bucket) < boostMinBucketEdges {
			continue
		}
		samePairs, totalPairs := 0, 0
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				totalPairs++
				ci, iOK := d.clusterer.ClusterForAddress(bucket[i].From)
				cj, jOK := d.clusterer.ClusterForAddress(bucket[j].From)
				if iOK && jOK && ci == cj {
					samePairs++
				}
			}
		}
		coordinated := len(bucket) >= boostLargeBucket
		if totalPairs > 0 && float64(samePairs)/float64(totalPairs) >= boostSameClusterRatio {
			coordinated = true
		}
		if coordinated {
			flaggedEdges += len(bucket)
			for _, e := range bucket {
				involvedSet[e.From] = struct{}{}
				suspicious = append(suspicious, e)
			}
		}
	}
	if flaggedEdges == 0 {
		return TrustManipulationResult{Type: ManipulationNone}
	}

	confidence := float64(flaggedEdges) / 10
	if confidence > 1 {
		confidence = 1
	}
	if confidence < boostFlagLevel {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	return TrustManipulationResult{
		Type:              CoordinatedTrustBoost,
		Confidence:        confidence,
		InvolvedAddresses: sortedAddresses(involvedSet),
		SuspiciousEdges:   suspicious,
		Description:       fmt.Sprintf("%d incoming edges arrived in coordinated bursts", flaggedEdges),
		EscalateToDAO:     confidence >= boostEscalateLevel,
	}
}

// DetectSybilTrustNetwork measures intra-cluster trust density for the
// cluster containing addr.
func (d *TrustManipulationDetector) DetectSybilTrustNetwork(addr string) TrustManipulationResult {
	members := d.clusterer.ClusterMembers(addr)
	n := len(members)
	if n < 2 {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	memberSet := make(map[string]struct{}, n)
	for _, m := range members {
		memberSet[m] = struct{}{}
	}

	var intraEdges []TrustEdge
	for _, m := range members {
		for _, e := range d.graph.OutgoingEdges(m) {
			if _, ok := memberSet[e.To]; ok {
				intraEdges = append(intraEdges, e)
			}
		}
	}
	if len(intraEdges) < sybilMinIntraEdges {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	density := float64(len(intraEdges)) / float64(n*(n-1))
	if density < sybilDensityThreshold {
		return TrustManipulationResult{Type: ManipulationNone}
	}

	confidence := density + 0.50
	if confidence > 1 {
		confidence = 1
	}
	return TrustManipulationResult{
		Type:              SybilTrustNetwork,
		Confidence:        confidence,
		InvolvedAddresses: sortedAddresses(memberSet),
		SuspiciousEdges:   intraEdges,
		Description: fmt.Sprintf("%d trust edges among %d clustered addresses (density %.2f)",
			len(intraEdges), n, density),
		EscalateToDAO: true,
	}
}

// DetectTrustWashing flags incoming edges whose source was itself freshly
// created yet already carried incoming trust, a pass-through pattern.
func (d *TrustManipulationDetector) DetectTrustWashing(addr string) TrustManipulationResult {
	window := int64(d.cfg.TrustWashWindow / time.Second)
	involvedSet := map[string]struct{}{addr: {}}
	var suspicious []TrustEdge
	for _, e := range d.graph.IncomingEdges(addr) {
		firstSeen := d.oracle.FirstSeenTime(e.From)
		if firstSeen == 0 || e.Timestamp-firstSeen >= window {
			continue
		}
		if len(d.graph.IncomingEdges(e.From)) == 0 {
			continue
		}
		suspicious = append(suspicious, e)
		involvedSet[e.From] = struct{}{}
	}
	if len(suspicious) == 0 {
		return TrustManipulationResult{Type: ManipulationNone}
	}

	confidence := float64(len(suspicious)) / 5
	if confidence > 1 {
		confidence = 1
	}
	if confidence < washFlagLevel {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	return TrustManipulationResult{
		Type:              TrustWashing,
		Confidence:        confidence,
		InvolvedAddresses: sortedAddresses(involvedSet),
		SuspiciousEdges:   suspicious,
		Description:       fmt.Sprintf("%d incoming edges from freshly created pass-through sources", len(suspicious)),
		EscalateToDAO:     confidence >= washEscalateLevel,
	}
}

// DetectReciprocalTrustAbuse counts mutual edge pairs that look exchanged
// rather than earned: near-equal weight, near-simultaneous, from a barely
// active counterparty.
func (d *TrustManipulationDetector) DetectReciprocalTrustAbuse(addr string) TrustManipulationResult {
	pairs := 0
	involvedSet := map[string]struct{}{addr: {}}
	var suspicious []TrustEdge
	for _, in := range d.graph.IncomingEdges(addr) {
		out, ok := d.graph.EdgeBetween(addr, in.From)
		if !ok {
			continue
		}
		weightDiff := in.Weight - out.Weight
		if weightDiff < 0 {
			weightDiff = -weightDiff
		}
		timeDiff := in.Timestamp - out.Timestamp
		if timeDiff < 0 {
			timeDiff = -timeDiff
		}
		if weightDiff > reciprocalMaxWeightDiff || timeDiff > reciprocalMaxTimeDiffSecs {
			continue
		}
		if d.oracle.ActivityCount(in.From) >= reciprocalMaxActivity {
			continue
		}
		pairs++
		involvedSet[in.From] = struct{}{}
		suspicious = append(suspicious, in, out)
	}
	if pairs == 0 {
		return TrustManipulationResult{Type: ManipulationNone}
	}

	confidence := float64(pairs) / 3
	if confidence > 1 {
		confidence = 1
	}
	if confidence < reciprocalFlagLevel {
		return TrustManipulationResult{Type: ManipulationNone}
	}
	return TrustManipulationResult{
		Type:              ReciprocalTrustAbuse,
		Confidence:        confidence,
		InvolvedAddresses: sortedAddresses(involvedSet),
		SuspiciousEdges:   suspicious,
		Description:       fmt.Sprintf("%d reciprocal trust pairs with low-activity counterparties", pairs),
		EscalateToDAO:     confidence >= reciprocalEscalateLevel,
	}
}

// healthPenalties maps a detected manipulation type to its flat deduction.
var healthPenalties = map[ManipulationType]int{
	SybilTrustNetwork:      30,
	CircularTrustRing:      25,
	CoordinatedTrustBoost:  20,
	ArtificialPathCreation: 15,
	TrustWashing:           15,
	RapidTrustAccumulation: 10,
	ReciprocalTrustAbuse:   10,
}

// CalculateTrustGraphHealthScore scores an address 0..100 from its
// manipulation analysis and flag status. 100 means no findings.
func (d *TrustManipulationDetector) CalculateTrustGraphHealthScore(addr string) int {
	score := 100
	result := d.AnalyzeAddress(addr)
	if result.Type != ManipulationNone {
		score -= int(result.Confidence * 50)
		score -= healthPenalties[result.Type]
	}
	if d.IsAddressFlagged(addr) {
		score -= 20
	}
	return clampScore(score)
}

// FlagAddress persists a manipulation verdict for addr and updates the
// in-memory index.
func (d *TrustManipulationDetector) FlagAddress(addr string, result TrustManipulationResult) {
	data, err := json.Marshal(result)
	if err != nil {
		logger.Error("Failed to encode flag record", "address", addr, "error", err)
		return
	}
	if err := d.store.Put(flaggedAddrPrefix+addr, data); err != nil {
		logger.Error("Failed to persist flag record", "address", addr, "error", err)
		return
	}
	d.mu.Lock()
	d.flagged[addr] = result
	count := len(d.flagged)
	d.mu.Unlock()
	SetFlaggedAddressCount(count)
	logger.Info("Flagged address",
		"address", addr, "type", result.Type, "confidence", result.Confidence)
}

// UnflagAddress removes the flag for addr, both persisted and in-memory.
// Intended to be called after external governance review.
func (d *TrustManipulationDetector) UnflagAddress(addr string) bool {
	d.mu.Lock()
	_, existed := d.flagged[addr]
	delete(d.flagged, addr)
	count := len(d.flagged)
	d.mu.Unlock()
	if err := d.store.Erase(flaggedAddrPrefix + addr); err != nil {
		logger.Error("Failed to erase flag record", "address", addr, "error", err)
	}
	SetFlaggedAddressCount(count)
	if existed {
		logger.Info("Unflagged address", "address", addr)
	}
	return existed
}

// IsAddressFlagged reports whether addr has a persisted flag.
func (d *TrustManipulationDetector) IsAddressFlagged(addr string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.flagged[addr]
	return ok
}

// FlaggedResult returns the persisted verdict for addr, if flagged.
func (d *TrustManipulationDetector) FlaggedResult(addr string) (TrustManipulationResult, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result, ok := d.flagged[addr]
	return result, ok
}

// GetFlaggedAddresses returns every flagged address in sorted order.
func (d *TrustManipulationDetector) GetFlaggedAddresses() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := make(map[string]struct{}, len(d.flagged))
	for addr := range d.flagged {
		set[addr] = struct{}{}
	}
	return sortedAddresses(set)
}
