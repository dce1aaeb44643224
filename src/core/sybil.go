package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Eligibility and diversity thresholds. These are consensus parameters:
// every node must apply identical values or validator sets diverge.
const (
	minValidatorHistoryBlocks = 10000
	minValidationCount        = 50
	minValidationAccuracy     = 0.85
	minStakeAgeBlocks         = 1000
	minStakeSources           = 3

	maxSubnetShare    = 0.50
	maxPeerOverlap    = 0.50
	maxStakeShare     = 0.20
	minNonWoTFraction = 0.40

	sybilSignalCount       = 5
	sybilMinSignals        = 2
	sybilConfidenceFloor   = 0.40
	wotCollusionHighRatio  = 0.90
	wotCollusionLowRatio   = 0.10
	uniformActivityCVLimit = 0.10
	voteTimingWindowMillis = 1000
	minTimingClusterSize   = 5
	crossGroupDisagreement = 0.60
)

// EclipseSybilProtection gates and audits the validator set that attests
// trust claims. It holds no in-process mutable state; all reads and writes
// go through the store, so concurrent network callbacks are safe as long as
// per-validator updates do not interleave for the same address.
type EclipseSybilProtection struct {
	store     Store
	graph     TrustGraph
	clusterer WalletClusterer
}

// NewEclipseSybilProtection wires the protection layer over its
// collaborators.
func NewEclipseSybilProtection(store Store, graph TrustGraph, clusterer WalletClusterer) *EclipseSybilProtection {
	return &EclipseSybilProtection{store: store, graph: graph, clusterer: clusterer}
}

// IsValidatorEligible checks all four eligibility gates for addr at the
// given chain height. Missing records fail conservatively.
func (e *EclipseSybilProtection) IsValidatorEligible(addr string, currentHeight int64) bool {
	net, found := e.GetValidatorNetworkInfo(addr)
	if !found {
		logger.Debug("Validator has no network record, not eligible", "address", addr)
		return false
	}
	if currentHeight-net.FirstSeen < minValidatorHistoryBlocks {
		return false
	}
	if net.ValidationCount < minValidationCount || net.Accuracy() < minValidationAccuracy {
		return false
	}
	stake, found := e.GetValidatorStakeInfo(addr)
	if !found {
		logger.Debug("Validator has no stake record, not eligible", "address", addr)
		return false
	}
	if stake.OldestStakeAge < minStakeAgeBlocks {
		return false
	}
	if stake.StakeSourceCount() < minStakeSources {
		return false
	}
	return true
}

// ValidateValidatorSetDiversity checks the four set-level diversity gates:
// subnet topology, peer overlap, stake concentration, and WoT independence.
func (e *EclipseSybilProtection) ValidateValidatorSetDiversity(set []string) bool {
	if len(set) == 0 {
		return false
	}
	return e.checkTopologyDiversity(set) &&
		e.checkPeerOverlap(set) &&
		e.checkStakeConcentration(set) &&
		e.checkWoTIndependence(set)
}

// checkTopologyDiversity fails when any /16 subnet holds more than half the
// set.
func (e *EclipseSybilProtection) checkTopologyDiversity(set []string) bool {
	subnets := make(map[string]int)
	for _, addr := range set {
		net, found := e.GetValidatorNetworkInfo(addr)
		if !found || net.IPAddress == "" {
			continue
		}
		subnets[subnet16(net.IPAddress)]++
	}
	for subnet, count := range subnets {
		if float64(count)/float64(len(set)) > maxSubnetShare {
			logger.Warn("Validator set concentrated in one subnet",
				"subnet", subnet, "count", count, "setSize", len(set))
			return false
		}
	}
	return true
}

// checkPeerOverlap fails when any validator pair shares more than half of
// the smaller peer set.
func (e *EclipseSybilProtection) checkPeerOverlap(set []string) bool {
	peers := make(map[string]map[string]struct{})
	for _, addr := range set {
		net, found := e.GetValidatorNetworkInfo(addr)
		if !found || len(net.ConnectedPeers) == 0 {
			continue
		}
		ps := make(map[string]struct{}, len(net.ConnectedPeers))
		for _, p := range net.ConnectedPeers {
			ps[p] = struct{}{}
		}
		peers[addr] = ps
	}
	addrs := sortedKeys(peers)
	for i := 0; i < len(addrs); i++ {
		for j := i + 1; j < len(addrs); j++ {
			a, b := peers[addrs[i]], peers[addrs[j]]
			smaller := len(a)
			if len(b) < smaller {
				smaller = len(b)
			}
			shared := 0
			for p := range a {
				if _, ok := b[p]; ok {
					shared++
				}
			}
			if float64(shared)/float64(smaller) > maxPeerOverlap {
				logger.Warn("Validator pair shares most peers",
					"validator1", addrs[i], "validator2", addrs[j],
					"shared", shared, "smallerSet", smaller)
				return false
			}
		}
	}
	return true
}

// checkStakeConcentration fails when a single address or a single wallet
// cluster controls more than 20% of the set's total stake.
func (e *EclipseSybilProtection) checkStakeConcentration(set []string) bool {
	stakes := make(map[string]int64)
	var total int64
	for _, addr := range set {
		stake, found := e.GetValidatorStakeInfo(addr)
		if !found {
			continue
		}
		stakes[addr] = stake.TotalStake
		total += stake.TotalStake
	}
	if total == 0 {
		return true
	}
	clusterStakes := make(map[string]int64)
	for addr, amount := range stakes {
		if float64(amount)/float64(total) > maxStakeShare {
			logger.Warn("Single validator controls too much stake",
				"address", addr, "stake", amount, "total", total)
			return false
		}
		clusterID, found := e.clusterer.ClusterForAddress(addr)
		if found {
			clusterStakes[clusterID] += amount
		}
	}
	for clusterID, amount := range clusterStakes {
		if float64(amount)/float64(total) > maxStakeShare {
			logger.Warn("Single wallet cluster controls too much stake",
				"cluster", clusterID, "stake", amount, "total", total)
			return false
		}
	}
	return true
}

// checkWoTIndependence fails when fewer than 40% of validators are outside
// the Web of Trust, i.e. the set is dominated by one trust clique.
func (e *EclipseSybilProtection) checkWoTIndependence(set []string) bool {
	outside := 0
	for _, addr := range set {
		if !e.hasWoTEdge(addr) {
			outside++
		}
	}
	return float64(outside)/float64(len(set)) >= minNonWoTFraction
}

func (e *EclipseSybilProtection) hasWoTEdge(addr string) bool {
	return len(e.graph.IncomingEdges(addr)) > 0 || len(e.graph.OutgoingEdges(addr)) > 0
}

// DetectSybilNetwork runs the five collusion signals over the set. The
// verdict requires at least two triggered signals; confidence is the
// triggered fraction.
func (e *EclipseSybilProtection) DetectSybilNetwork(set []string, currentHeight int64) SybilDetectionResult {
	result := SybilDetectionResult{}
	if len(set) == 0 {
		return result
	}

	result.HasTopologyCollusion = !e.checkTopologyDiversity(set)
	result.HasPeerCollusion = !e.checkPeerOverlap(set)
	result.HasStakeCollusion = !e.checkStakeConcentration(set)
	result.HasBehavioralCollusion = e.detectBehavioralCollusion(set)
	result.HasWoTCollusion = e.detectWoTCollusion(set)

	var reasons []string
	triggered := 0
	for _, signal := range []struct {
		on   bool
		name string
	}{
		{result.HasTopologyCollusion, "topology"},
		{result.HasPeerCollusion, "peer overlap"},
		{result.HasStakeCollusion, "stake concentration"},
		{result.HasBehavioralCollusion, "behavioral coordination"},
		{result.HasWoTCollusion, "WoT connectivity"},
	} {
		if signal.on {
			triggered++
			reasons = append(reasons, signal.name)
		}
	}

	result.Confidence = float64(triggered) / float64(sybilSignalCount)
	if triggered >= sybilMinSignals && result.Confidence >= sybilConfidenceFloor {
		result.IsSybilNetwork = true
		result.SuspiciousValidators = append([]string(nil), set...)
		result.Reason = fmt.Sprintf("collusion signals: %s", strings.Join(reasons, ", "))
	}

	RecordSybilAudit(result.IsSybilNetwork)
	if result.IsSybilNetwork {
		logger.Warn("Sybil network detected in validator set",
			"setSize", len(set), "confidence", result.Confidence, "reason", result.Reason)
	}
	return result
}

// detectBehavioralCollusion is true when validators respond to the same
// task inside a tight time window, or when their validation counts are
// suspiciously uniform.
func (e *EclipseSybilProtection) detectBehavioralCollusion(set []string) bool {
	if coordinated, confidence := e.detectTimingCoordination(set); coordinated {
		logger.Warn("Coordinated validation timing detected",
			"setSize", len(set), "confidence", confidence)
		return true
	}

	counts := make([]float64, 0, len(set))
	for _, addr := range set {
		net, found := e.GetValidatorNetworkInfo(addr)
		if !found {
			continue
		}
		counts = append(counts, float64(net.ValidationCount))
	}
	if len(counts) < 3 || mean(counts) == 0 {
		return false
	}
	return coefficientOfVariation(counts) < uniformActivityCVLimit
}

// detectTimingCoordination looks for any task where a sliding window of at
// most voteTimingWindowMillis contains responses from at least
// minTimingClusterSize distinct validators. Confidence blends window
// density with window tightness; identical timestamps score 1.0 tightness.
func (e *EclipseSybilProtection) detectTimingCoordination(set []string) (bool, float64) {
	type stamped struct {
		validator string
		at        int64
	}
	byTask := make(map[string][]stamped)
	for _, addr := range set {
		net, found := e.GetValidatorNetworkInfo(addr)
		if !found {
			continue
		}
		for taskID, times := range net.RecentValidationTimes {
			for _, at := range times {
				byTask[taskID] = append(byTask[taskID], stamped{validator: addr, at: at})
			}
		}
	}

	best := 0.0
	found := false
	for _, stamps := range byTask {
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].at < stamps[j].at })
		for lo := 0; lo < len(stamps); lo++ {
			distinct := map[string]struct{}{stamps[lo].validator: {}}
			hi := lo
			for hi+1 < len(stamps) && stamps[hi+1].at-stamps[lo].at <= voteTimingWindowMillis {
				hi++
				distinct[stamps[hi].validator] = struct{}{}
			}
			if len(distinct) < minTimingClusterSize {
				continue
			}
			found = true
			density := float64(len(distinct)) / float64(len(set))
			if density > 1 {
				density = 1
			}
			span := float64(stamps[hi].at - stamps[lo].at)
			tightness := 1 - span/float64(voteTimingWindowMillis)
			confidence := 0.6*density + 0.4*tightness
			if confidence > best {
				best = confidence
			}
		}
	}
	return found, best
}

// detectWoTCollusion is true when almost all, or almost none, of the set
// has a Web-of-Trust edge. Either extreme suggests a curated set.
func (e *EclipseSybilProtection) detectWoTCollusion(set []string) bool {
	connected := 0
	for _, addr := range set {
		if e.hasWoTEdge(addr) {
			connected++
		}
	}
	ratio := float64(connected) / float64(len(set))
	return ratio > wotCollusionHighRatio || ratio < wotCollusionLowRatio
}

// CheckCrossGroupAgreement partitions the set into WoT-connected and
// unconnected validators and compares their average votes. Returns false
// when the groups disagree beyond the tolerance, a sign of insider
// manipulation.
func (e *EclipseSybilProtection) CheckCrossGroupAgreement(set []string, votes map[string]float64) bool {
	var inSum, outSum float64
	var inCount, outCount int
	for _, addr := range set {
		vote, ok := votes[addr]
		if !ok {
			continue
		}
		if e.hasWoTEdge(addr) {
			inSum += vote
			inCount++
		} else {
			outSum += vote
			outCount++
		}
	}
	if inCount == 0 || outCount == 0 {
		return true
	}
	inAvg := inSum / float64(inCount)
	outAvg := outSum / float64(outCount)
	scale := inAvg
	if outAvg > scale {
		scale = outAvg
	}
	if scale < 0 {
		scale = -scale
	}
	if scale == 0 {
		return true
	}
	diff := inAvg - outAvg
	if diff < 0 {
		diff = -diff
	}
	if diff/scale > crossGroupDisagreement {
		logger.Warn("WoT and non-WoT validators disagree",
			"wotAvg", inAvg, "nonWotAvg", outAvg)
		return false
	}
	return true
}

// UpdateValidatorNetworkInfo upserts the network observation for addr.
// First observation pins FirstSeen to the current height.
func (e *EclipseSybilProtection) UpdateValidatorNetworkInfo(addr, ip string, peers []string, currentHeight int64) {
	net, found := e.GetValidatorNetworkInfo(addr)
	if !found {
		net = ValidatorNetworkInfo{Address: addr, FirstSeen: currentHeight}
	}
	net.IPAddress = ip
	net.ConnectedPeers = append([]string(nil), peers...)
	e.putNetworkInfo(net)
}

// RecordValidationResult bumps the validation counters for addr. Results
// for validators with no network record are dropped: creating one here
// would pin FirstSeen to zero and let an address never observed on the
// network pass the history gate.
func (e *EclipseSybilProtection) RecordValidationResult(addr string, accurate bool) {
	net, found := e.GetValidatorNetworkInfo(addr)
	if !found {
		logger.Warn("Dropping validation result for unknown validator", "address", addr)
		return
	}
	net.ValidationCount++
	if accurate {
		net.AccurateValidations++
	}
	e.putNetworkInfo(net)
}

// RecordValidationTimestamp appends a task response timestamp for addr,
// keeping at most maxTimestampsPerTask newest entries per task. Timestamps
// for validators with no network record are dropped, same as results.
func (e *EclipseSybilProtection) RecordValidationTimestamp(addr, taskID string, tsMillis int64) {
	net, found := e.GetValidatorNetworkInfo(addr)
	if !found {
		logger.Warn("Dropping validation timestamp for unknown validator", "address", addr)
		return
	}
	if net.RecentValidationTimes == nil {
		net.RecentValidationTimes = make(map[string][]int64)
	}
	times := append(net.RecentValidationTimes[taskID], tsMillis)
	if len(times) > maxTimestampsPerTask {
		times = times[len(times)-maxTimestampsPerTask:]
	}
	net.RecentValidationTimes[taskID] = times
	e.putNetworkInfo(net)
}

// UpdateValidatorStakeInfo upserts the stake record for addr.
func (e *EclipseSybilProtection) UpdateValidatorStakeInfo(addr string, info ValidatorStakeInfo) {
	info.Address = addr
	data, err := json.Marshal(info)
	if err != nil {
		logger.Error("Failed to encode validator stake info", "address", addr, "error", err)
		return
	}
	if err := e.store.Put(validatorStakePrefix+addr, data); err != nil {
		logger.Error("Failed to store validator stake info", "address", addr, "error", err)
	}
}

// GetValidatorNetworkInfo returns the network record for addr.
func (e *EclipseSybilProtection) GetValidatorNetworkInfo(addr string) (ValidatorNetworkInfo, bool) {
	data, found, err := e.store.Get(validatorNetPrefix + addr)
	if err != nil {
		logger.Error("Failed to read validator network info", "address", addr, "error", err)
		return ValidatorNetworkInfo{}, false
	}
	if !found {
		return ValidatorNetworkInfo{}, false
	}
	var net ValidatorNetworkInfo
	if err := json.Unmarshal(data, &net); err != nil {
		logger.Warn("Skipping malformed validator network record", "address", addr, "error", err)
		return ValidatorNetworkInfo{}, false
	}
	return net, true
}

// GetValidatorStakeInfo returns the stake record for addr.
func (e *EclipseSybilProtection) GetValidatorStakeInfo(addr string) (ValidatorStakeInfo, bool) {
	data, found, err := e.store.Get(validatorStakePrefix + addr)
	if err != nil {
		logger.Error("Failed to read validator stake info", "address", addr, "error", err)
		return ValidatorStakeInfo{}, false
	}
	if !found {
		return ValidatorStakeInfo{}, false
	}
	var stake ValidatorStakeInfo
	if err := json.Unmarshal(data, &stake); err != nil {
		logger.Warn("Skipping malformed validator stake record", "address", addr, "error", err)
		return ValidatorStakeInfo{}, false
	}
	return stake, true
}

func (e *EclipseSybilProtection) putNetworkInfo(net ValidatorNetworkInfo) {
	data, err := json.Marshal(net)
	if err != nil {
		logger.Error("Failed to encode validator network info", "address", net.Address, "error", err)
		return
	}
	if err := e.store.Put(validatorNetPrefix+net.Address, data); err != nil {
		logger.Error("Failed to store validator network info", "address", net.Address, "error", err)
	}
}

// subnet16 reduces a dotted-quad IP to its /16 prefix. Malformed addresses
// collapse to themselves so they group together.
func subnet16(ip string) string {
	parts := strings.SplitN(ip, ".", 3)
	if len(parts) < 3 {
		return ip
	}
	return parts[0] + "." + parts[1]
}
