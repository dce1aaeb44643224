package main

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	// maxClusterSize is the hard cap on how many cluster members a single
	// propagation touches. Larger clusters are truncated deterministically.
	maxClusterSize = 10000
	// defaultBatchSize is the chunk size for batched propagation.
	defaultBatchSize = 1000
)

// BatchCallback is invoked after each chunk of a batched propagation with
// the number of members processed so far and the total target. Returning
// false aborts the remaining chunks.
type BatchCallback func(processed, total int) bool

// TrustPropagator maintains the derived table of propagated trust edges and
// the byte-budgeted cache of cluster summaries. All methods are best-effort
// over the store: per-member failures are logged and skipped.
type TrustPropagator struct {
	store     Store
	graph     TrustGraph
	clusterer WalletClusterer
	cache     *summaryCache

	now func() int64
}

// NewTrustPropagator wires a propagator over its collaborators. cacheBytes
// bounds the summary cache; non-positive means the 100 MB default.
func NewTrustPropagator(store Store, graph TrustGraph, clusterer WalletClusterer, cacheBytes int64) *TrustPropagator {
	return &TrustPropagator{
		store:     store,
		graph:     graph,
		clusterer: clusterer,
		cache:     newSummaryCache(cacheBytes),
		now:       func() int64 { return time.Now().Unix() },
	}
}

// edgeWins reports whether a beats b when two propagated edges from the
// same truster conflict. Later original timestamp wins; ties go to the
// larger source-edge transaction id. This is a total order on distinct
// (timestamp, txid) pairs, so every node resolves conflicts identically.
func edgeWins(a, b PropagatedTrustEdge) bool {
	if a.OriginalTimestamp != b.OriginalTimestamp {
		return a.OriginalTimestamp > b.OriginalTimestamp
	}
	return strings.Compare(a.SourceEdgeTx, b.SourceEdgeTx) > 0
}

// clusterTargets resolves the cluster of addr into a deterministic member
// list, falling back to a singleton when no cluster is known.
func (p *TrustPropagator) clusterTargets(addr string) (clusterID string, members []string) {
	clusterID, found := p.clusterer.ClusterForAddress(addr)
	if !found {
		return addr, []string{addr}
	}
	raw := p.clusterer.ClusterMembers(clusterID)
	if len(raw) == 0 {
		return clusterID, []string{addr}
	}
	set := make(map[string]struct{}, len(raw))
	for _, m := range raw {
		set[m] = struct{}{}
	}
	return clusterID, sortedAddresses(set)
}

// storePropagatedEdge writes the primary record and, best-effort, the
// reverse index entry. The primary record stands even when the index write
// fails; RebuildSourceIndex recovers the index by full scan.
func (p *TrustPropagator) storePropagatedEdge(edge PropagatedTrustEdge) bool {
	data, err := json.Marshal(edge)
	if err != nil {
		logger.Error("Failed to encode propagated edge",
			"from", edge.From, "to", edge.To, "error", err)
		return false
	}
	key := edge.StorageKey()
	if err := p.store.Put(key, data); err != nil {
		logger.Error("Failed to store propagated edge", "key", key, "error", err)
		return false
	}
	idxValue, _ := json.Marshal(key)
	if err := p.store.Put(edge.IndexKey(), idxValue); err != nil {
		logger.Warn("Propagated edge index write failed, primary record stands",
			"key", edge.IndexKey(), "error", err)
	}
	return true
}

// PropagateTrustEdge copies edge onto every member of the target's wallet
// cluster and returns how many propagated edges were written.
func (p *TrustPropagator) PropagateTrustEdge(edge TrustEdge) int {
	return p.PropagateTrustEdgeWithResult(edge).PropagatedCount
}

// PropagateTrustEdgeWithResult is PropagateTrustEdge plus truncation info.
func (p *TrustPropagator) PropagateTrustEdgeWithResult(edge TrustEdge) PropagationResult {
	return p.PropagateTrustEdgeBatched(edge, 0, nil)
}

// PropagateTrustEdgeBatched propagates in chunks of batchSize (default
// 1000), invoking callback after every chunk. A false return from the
// callback stops the remaining chunks; edges already written stand.
func (p *TrustPropagator) PropagateTrustEdgeBatched(edge TrustEdge, batchSize int, callback BatchCallback) PropagationResult {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	clusterID, members := p.clusterTargets(edge.To)
	result := PropagationResult{OriginalClusterSize: len(members)}
	if len(members) > maxClusterSize {
		members = members[:maxClusterSize]
		result.WasLimited = true
		logger.Warn("Cluster exceeds propagation cap, truncating",
			"cluster", clusterID, "size", result.OriginalClusterSize, "cap", maxClusterSize)
	}

	now := p.now()
	total := len(members)
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		for _, member := range members[start:end] {
			prop := PropagatedTrustEdge{
				From:              edge.From,
				To:                member,
				OriginalTarget:    edge.To,
				SourceEdgeTx:      edge.BondTx,
				Weight:            edge.Weight,
				BondAmount:        edge.BondAmount,
				OriginalTimestamp: edge.Timestamp,
				PropagatedAt:      now,
			}
			if p.storePropagatedEdge(prop) {
				result.PropagatedCount++
			}
		}
		if callback != nil && !callback(end, total) {
			logger.Info("Batched propagation aborted by callback",
				"cluster", clusterID, "processed", end, "total", total)
			break
		}
	}

	p.cache.Invalidate(clusterID)
	RecordPropagatedEdges(result.PropagatedCount)
	logger.Debug("Propagated trust edge",
		"from", edge.From, "target", edge.To, "cluster", clusterID,
		"count", result.PropagatedCount, "limited", result.WasLimited)
	return result
}

// InheritTrustForNewMember copies every distinct source edge currently
// affecting the cluster onto a newly discovered member. Distinctness is by
// source transaction id, covering both already-propagated edges and direct
// edges not yet propagated.
func (p *TrustPropagator) InheritTrustForNewMember(newAddr, clusterID string) int {
	members := p.clusterer.ClusterMembers(clusterID)
	sources := make(map[string]PropagatedTrustEdge)
	for _, member := range members {
		if member == newAddr {
			continue
		}
		for _, prop := range p.GetPropagatedEdgesForAddress(member) {
			if _, seen := sources[prop.SourceEdgeTx]; !seen {
				sources[prop.SourceEdgeTx] = prop
			}
		}
		for _, direct := range p.graph.IncomingEdges(member) {
			if _, seen := sources[direct.BondTx]; seen {
				continue
			}
			sources[direct.BondTx] = PropagatedTrustEdge{
				From:              direct.From,
				OriginalTarget:    direct.To,
				SourceEdgeTx:      direct.BondTx,
				Weight:            direct.Weight,
				BondAmount:        direct.BondAmount,
				OriginalTimestamp: direct.Timestamp,
			}
		}
	}

	now := p.now()
	inherited := 0
	for _, tx := range sortedKeys(sources) {
		src := sources[tx]
		src.To = newAddr
		src.PropagatedAt = now
		if p.storePropagatedEdge(src) {
			inherited++
		}
	}

	p.cache.Invalidate(clusterID)
	RecordPropagatedEdges(inherited)
	logger.Info("Inherited trust for new cluster member",
		"address", newAddr, "cluster", clusterID, "edges", inherited)
	return inherited
}

// HandleClusterMerge re-propagates the winning edge set of two merging
// clusters onto every member of the merged cluster. Conflicting edges from
// the same truster are resolved by edgeWins so every node converges on the
// same final state. Returns false only if an edge failed to persist.
func (p *TrustPropagator) HandleClusterMerge(cluster1, cluster2, mergedID string) bool {
	memberSet := make(map[string]struct{})
	for _, id := range []string{cluster1, cluster2} {
		members := p.clusterer.ClusterMembers(id)
		if len(members) == 0 {
			// A bare cluster id with no member list is itself a member.
			memberSet[id] = struct{}{}
			continue
		}
		for _, m := range members {
			memberSet[m] = struct{}{}
		}
	}
	members := sortedAddresses(memberSet)

	// One edge per distinct truster, direct or propagated, best edge wins.
	winners := make(map[string]PropagatedTrustEdge)
	for _, member := range members {
		for _, prop := range p.GetPropagatedEdgesForAddress(member) {
			if best, ok := winners[prop.From]; !ok || edgeWins(prop, best) {
				winners[prop.From] = prop
			}
		}
		for _, direct := range p.graph.IncomingEdges(member) {
			candidate := PropagatedTrustEdge{
				From:              direct.From,
				OriginalTarget:    direct.To,
				SourceEdgeTx:      direct.BondTx,
				Weight:            direct.Weight,
				BondAmount:        direct.BondAmount,
				OriginalTimestamp: direct.Timestamp,
			}
			if best, ok := winners[direct.From]; !ok || edgeWins(candidate, best) {
				winners[direct.From] = candidate
			}
		}
	}

	mergedMembers := p.clusterer.ClusterMembers(mergedID)
	if len(mergedMembers) == 0 {
		mergedMembers = members
	}
	targetSet := make(map[string]struct{}, len(mergedMembers))
	for _, m := range mergedMembers {
		targetSet[m] = struct{}{}
	}

	now := p.now()
	failures := 0
	for _, truster := range sortedKeys(winners) {
		winner := winners[truster]
		for _, member := range sortedAddresses(targetSet) {
			prop := winner
			prop.To = member
			prop.PropagatedAt = now
			if !p.storePropagatedEdge(prop) {
				failures++
			}
		}
	}

	p.cache.Invalidate(cluster1)
	p.cache.Invalidate(cluster2)
	p.cache.Invalidate(mergedID)
	logger.Info("Handled cluster merge",
		"cluster1", cluster1, "cluster2", cluster2, "merged", mergedID,
		"trusters", len(winners), "members", len(targetSet), "failures", failures)
	return failures == 0
}

// sourceIndexEntries returns primary keys for edges derived from sourceTx.
// A re-propagation of the same (from, to) pair under a newer bond tx leaves
// the old tx's index entry pointing at the newer edge; those stale entries
// are erased here instead of being returned, so delete and update by source
// only ever touch edges that still carry the queried tx.
func (p *TrustPropagator) sourceIndexEntries(sourceTx string) []string {
	idxKeys, err := p.store.ListKeysWithPrefix(trustPropIdxPrefix + sourceTx + "_")
	if err != nil {
		logger.Error("Failed to scan propagated edge index", "sourceTx", sourceTx, "error", err)
		return nil
	}
	primary := make([]string, 0, len(idxKeys))
	for _, idxKey := range idxKeys {
		data, found, err := p.store.Get(idxKey)
		if err != nil || !found {
			continue
		}
		var key string
		if err := json.Unmarshal(data, &key); err != nil {
			logger.Warn("Skipping malformed index entry", "key", idxKey, "error", err)
			continue
		}
		edge, ok := p.loadPropagatedEdge(key)
		if !ok || edge.SourceEdgeTx != sourceTx {
			logger.Debug("Erasing stale index entry", "key", idxKey)
			if err := p.store.Erase(idxKey); err != nil {
				logger.Warn("Failed to erase stale index entry", "key", idxKey, "error", err)
			}
			continue
		}
		primary = append(primary, key)
	}
	return primary
}

// DeletePropagatedEdges removes every propagated edge derived from
// sourceTx, along with its index entries, and returns how many were
// deleted.
func (p *TrustPropagator) DeletePropagatedEdges(sourceTx string) int {
	deleted := 0
	touched := make(map[string]struct{})
	for _, primaryKey := range p.sourceIndexEntries(sourceTx) {
		edge, ok := p.loadPropagatedEdge(primaryKey)
		if !ok {
			continue
		}
		if err := p.store.Erase(primaryKey); err != nil {
			logger.Error("Failed to erase propagated edge", "key", primaryKey, "error", err)
			continue
		}
		deleted++
		if err := p.store.Erase(edge.IndexKey()); err != nil {
			logger.Warn("Failed to erase index entry", "key", edge.IndexKey(), "error", err)
		}
		clusterID, _ := p.clusterTargets(edge.To)
		touched[clusterID] = struct{}{}
	}
	for clusterID := range touched {
		p.cache.Invalidate(clusterID)
	}
	logger.Debug("Deleted propagated edges", "sourceTx", sourceTx, "count", deleted)
	return deleted
}

// UpdatePropagatedEdges re-weights every propagated edge derived from
// sourceTx and returns how many were updated.
func (p *TrustPropagator) UpdatePropagatedEdges(sourceTx string, newWeight int) int {
	updated := 0
	touched := make(map[string]struct{})
	for _, primaryKey := range p.sourceIndexEntries(sourceTx) {
		edge, ok := p.loadPropagatedEdge(primaryKey)
		if !ok {
			continue
		}
		edge.Weight = newWeight
		data, err := json.Marshal(edge)
		if err != nil {
			logger.Error("Failed to encode propagated edge", "key", primaryKey, "error", err)
			continue
		}
		if err := p.store.Put(primaryKey, data); err != nil {
			logger.Error("Failed to update propagated edge", "key", primaryKey, "error", err)
			continue
		}
		updated++
		clusterID, _ := p.clusterTargets(edge.To)
		touched[clusterID] = struct{}{}
	}
	for clusterID := range touched {
		p.cache.Invalidate(clusterID)
	}
	logger.Debug("Updated propagated edges",
		"sourceTx", sourceTx, "weight", newWeight, "count", updated)
	return updated
}

func (p *TrustPropagator) loadPropagatedEdge(key string) (PropagatedTrustEdge, bool) {
	data, found, err := p.store.Get(key)
	if err != nil || !found {
		return PropagatedTrustEdge{}, false
	}
	var edge PropagatedTrustEdge
	if err := json.Unmarshal(data, &edge); err != nil {
		logger.Warn("Skipping malformed propagated edge record", "key", key, "error", err)
		return PropagatedTrustEdge{}, false
	}
	return edge, true
}

// GetPropagatedEdgesForAddress returns every propagated edge targeting
// addr.
func (p *TrustPropagator) GetPropagatedEdgesForAddress(addr string) []PropagatedTrustEdge {
	keys, err := p.store.ListKeysWithPrefix(trustPropPrefix)
	if err != nil {
		logger.Error("Failed to scan propagated edges", "error", err)
		return nil
	}
	var edges []PropagatedTrustEdge
	for _, key := range keys {
		if !isPropagatedPrimaryKey(key) {
			continue
		}
		if edge, ok := p.loadPropagatedEdge(key); ok && edge.To == addr {
			edges = append(edges, edge)
		}
	}
	return edges
}

// GetPropagatedEdgesBySource returns every propagated edge derived from
// sourceTx, via the reverse index.
func (p *TrustPropagator) GetPropagatedEdgesBySource(sourceTx string) []PropagatedTrustEdge {
	var edges []PropagatedTrustEdge
	for _, primaryKey := range p.sourceIndexEntries(sourceTx) {
		if edge, ok := p.loadPropagatedEdge(primaryKey); ok {
			edges = append(edges, edge)
		}
	}
	return edges
}

// RebuildSourceIndex rewrites the reverse index from a full scan of the
// primary table. Recovery path for index entries lost to best-effort dual
// writes. Returns the number of index entries written.
func (p *TrustPropagator) RebuildSourceIndex() int {
	keys, err := p.store.ListKeysWithPrefix(trustPropPrefix)
	if err != nil {
		logger.Error("Failed to scan propagated edges for reindex", "error", err)
		return 0
	}
	rebuilt := 0
	for _, key := range keys {
		if !isPropagatedPrimaryKey(key) {
			continue
		}
		edge, ok := p.loadPropagatedEdge(key)
		if !ok {
			continue
		}
		idxValue, _ := json.Marshal(edge.StorageKey())
		if err := p.store.Put(edge.IndexKey(), idxValue); err != nil {
			logger.Error("Failed to rewrite index entry", "key", edge.IndexKey(), "error", err)
			continue
		}
		rebuilt++
	}
	logger.Info("Rebuilt propagated edge source index", "entries", rebuilt)
	return rebuilt
}

// CalculateMemberScore returns the bond-weighted average incoming trust
// weight for one address, across direct and propagated edges deduplicated
// by truster (direct edges take precedence). Each edge's weight is scaled
// by bond/coin with a floor of one unit so zero-bond edges still count.
func (p *TrustPropagator) CalculateMemberScore(addr string) float64 {
	type weighted struct {
		weight int
		bond   int64
	}
	byTruster := make(map[string]weighted)
	for _, prop := range p.GetPropagatedEdgesForAddress(addr) {
		byTruster[prop.From] = weighted{weight: prop.Weight, bond: prop.BondAmount}
	}
	for _, direct := range p.graph.IncomingEdges(addr) {
		byTruster[direct.From] = weighted{weight: direct.Weight, bond: direct.BondAmount}
	}
	if len(byTruster) == 0 {
		return 0
	}
	var weightedSum, totalWeight float64
	for _, w := range byTruster {
		bondWeight := float64(w.bond) / float64(coinUnit)
		if bondWeight < 1.0 {
			bondWeight = 1.0
		}
		weightedSum += float64(w.weight) * bondWeight
		totalWeight += bondWeight
	}
	return weightedSum / totalWeight
}

// GetClusterTrustSummary returns the aggregated trust view of the cluster
// containing addr, serving from cache when possible. The effective score is
// the minimum member score: a cluster is only as reputable as its worst
// member.
func (p *TrustPropagator) GetClusterTrustSummary(addr string) ClusterTrustSummary {
	clusterID, members := p.clusterTargets(addr)
	if cached, ok := p.cache.Get(clusterID); ok {
		RecordCacheHit()
		return cached
	}
	RecordCacheMiss()

	summary := ClusterTrustSummary{
		ClusterID:   clusterID,
		Members:     members,
		LastUpdated: p.now(),
	}

	// Each distinct truster counts once toward totals, no matter how many
	// members it reached.
	trusters := make(map[string]weightedEdge)
	first := true
	for _, member := range members {
		for _, prop := range p.GetPropagatedEdgesForAddress(member) {
			if _, seen := trusters[prop.From]; !seen {
				trusters[prop.From] = weightedEdge{weight: prop.Weight}
			}
		}
		for _, direct := range p.graph.IncomingEdges(member) {
			if _, seen := trusters[direct.From]; !seen {
				trusters[direct.From] = weightedEdge{weight: direct.Weight}
			}
		}
		score := p.CalculateMemberScore(member)
		if first || score < summary.EffectiveScore {
			summary.EffectiveScore = score
			first = false
		}
	}
	for _, t := range trusters {
		if t.weight >= 0 {
			summary.TotalPositiveTrust += int64(t.weight)
		} else {
			summary.TotalNegativeTrust += int64(t.weight)
		}
	}
	summary.EdgeCount = len(trusters)

	p.cache.Put(clusterID, summary)
	return summary
}

type weightedEdge struct {
	weight int
}

// CacheSize returns the summary cache's current estimated byte usage.
func (p *TrustPropagator) CacheSize() int64 { return p.cache.Size() }

// CacheEntryCount returns the number of cached cluster summaries.
func (p *TrustPropagator) CacheEntryCount() int { return p.cache.EntryCount() }

// CacheMaxSize returns the summary cache's byte budget.
func (p *TrustPropagator) CacheMaxSize() int64 { return p.cache.MaxSize() }

// ClearCache drops every cached cluster summary.
func (p *TrustPropagator) ClearCache() { p.cache.Clear() }

// sortedKeys returns the map's keys in deterministic order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
