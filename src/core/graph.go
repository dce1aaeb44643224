package main

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TrustGraph is the source of truth for direct trust edges. The engine only
// reads it; edges are written by the ledger layer.
type TrustGraph interface {
	// IncomingEdges returns every direct trust edge targeting addr.
	IncomingEdges(addr string) []TrustEdge
	// OutgoingEdges returns every direct trust edge originating from addr.
	OutgoingEdges(addr string) []TrustEdge
	// EdgeBetween returns the direct edge from a to b, if one exists.
	EdgeBetween(a, b string) (TrustEdge, bool)
}

// WalletClusterer maps addresses to the wallet cluster believed to share a
// controller.
type WalletClusterer interface {
	// ClusterForAddress returns the cluster id for addr, or found=false
	// when the address has no known cluster.
	ClusterForAddress(addr string) (string, bool)
	// ClusterMembers returns all member addresses of the cluster identified
	// by a cluster id or by any member address.
	ClusterMembers(idOrAddr string) []string
}

// ActivityOracle reports on-chain history for an address, used to judge
// whether its trust relationships look organic.
type ActivityOracle interface {
	// FirstSeenTime returns the unix time addr first appeared, or 0.
	FirstSeenTime(addr string) int64
	// ActivityCount returns the number of recorded transactions for addr.
	ActivityCount(addr string) int
}

// StoreTrustGraph implements TrustGraph over the key-value store, keeping a
// forward and a reverse key per edge so both directions scan by prefix.
type StoreTrustGraph struct {
	store Store
}

// NewStoreTrustGraph returns a TrustGraph backed by store.
func NewStoreTrustGraph(store Store) *StoreTrustGraph {
	return &StoreTrustGraph{store: store}
}

// RecordTrustEdge persists a direct trust edge under both direction keys.
// The reverse-direction write is best-effort.
func (g *StoreTrustGraph) RecordTrustEdge(edge TrustEdge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to encode trust edge: %w", err)
	}
	inKey := trustEdgeInPrefix + edge.To + "_" + edge.From
	if err := g.store.Put(inKey, data); err != nil {
		return fmt.Errorf("failed to store trust edge %s: %w", inKey, err)
	}
	outKey := trustEdgeOutPrefix + edge.From + "_" + edge.To
	if err := g.store.Put(outKey, data); err != nil {
		logger.Warn("Trust edge reverse key write failed",
			"key", outKey, "error", err)
	}
	return nil
}

// RemoveTrustEdge deletes the direct edge from a to b.
func (g *StoreTrustGraph) RemoveTrustEdge(from, to string) {
	if err := g.store.Erase(trustEdgeInPrefix + to + "_" + from); err != nil {
		logger.Error("Failed to erase trust edge", "from", from, "to", to, "error", err)
	}
	if err := g.store.Erase(trustEdgeOutPrefix + from + "_" + to); err != nil {
		logger.Warn("Failed to erase trust edge reverse key",
			"from", from, "to", to, "error", err)
	}
}

// IncomingEdges returns every direct trust edge targeting addr.
func (g *StoreTrustGraph) IncomingEdges(addr string) []TrustEdge {
	return g.edgesByPrefix(trustEdgeInPrefix + addr + "_")
}

// OutgoingEdges returns every direct trust edge originating from addr.
func (g *StoreTrustGraph) OutgoingEdges(addr string) []TrustEdge {
	return g.edgesByPrefix(trustEdgeOutPrefix + addr + "_")
}

// EdgeBetween returns the direct edge from a to b, if one exists.
func (g *StoreTrustGraph) EdgeBetween(a, b string) (TrustEdge, bool) {
	data, found, err := g.store.Get(trustEdgeOutPrefix + a + "_" + b)
	if err != nil {
		logger.Error("Failed to read trust edge", "from", a, "to", b, "error", err)
		return TrustEdge{}, false
	}
	if !found {
		return TrustEdge{}, false
	}
	var edge TrustEdge
	if err := json.Unmarshal(data, &edge); err != nil {
		logger.Warn("Skipping malformed trust edge record", "from", a, "to", b, "error", err)
		return TrustEdge{}, false
	}
	return edge, true
}

func (g *StoreTrustGraph) edgesByPrefix(prefix string) []TrustEdge {
	keys, err := g.store.ListKeysWithPrefix(prefix)
	if err != nil {
		logger.Error("Failed to list trust edges", "prefix", prefix, "error", err)
		return nil
	}
	edges := make([]TrustEdge, 0, len(keys))
	for _, key := range keys {
		data, found, err := g.store.Get(key)
		if err != nil || !found {
			continue
		}
		var edge TrustEdge
		if err := json.Unmarshal(data, &edge); err != nil {
			logger.Warn("Skipping malformed trust edge record", "key", key, "error", err)
			continue
		}
		edges = append(edges, edge)
	}
	return edges
}

// StoreWalletClusterer implements WalletClusterer over the key-value store.
// Membership is stored both as a per-address pointer and as a per-cluster
// marker so member listing is a single prefix scan.
type StoreWalletClusterer struct {
	store Store
}

// NewStoreWalletClusterer returns a WalletClusterer backed by store.
func NewStoreWalletClusterer(store Store) *StoreWalletClusterer {
	return &StoreWalletClusterer{store: store}
}

// AssignCluster records addr as a member of clusterID.
func (c *StoreWalletClusterer) AssignCluster(addr, clusterID string) error {
	if err := c.store.Put(clusterOfPrefix+addr, []byte(clusterID)); err != nil {
		return fmt.Errorf("failed to store cluster assignment for %s: %w", addr, err)
	}
	if err := c.store.Put(clusterMemberPrefix+clusterID+"_"+addr, []byte("1")); err != nil {
		logger.Warn("Cluster membership marker write failed",
			"cluster", clusterID, "address", addr, "error", err)
	}
	return nil
}

// RemoveFromCluster drops addr from its cluster, if any.
func (c *StoreWalletClusterer) RemoveFromCluster(addr string) {
	clusterID, found := c.ClusterForAddress(addr)
	if !found {
		return
	}
	if err := c.store.Erase(clusterOfPrefix + addr); err != nil {
		logger.Error("Failed to erase cluster assignment", "address", addr, "error", err)
	}
	if err := c.store.Erase(clusterMemberPrefix + clusterID + "_" + addr); err != nil {
		logger.Warn("Failed to erase cluster membership marker",
			"cluster", clusterID, "address", addr, "error", err)
	}
}

// ClusterForAddress returns the cluster id for addr, or found=false.
func (c *StoreWalletClusterer) ClusterForAddress(addr string) (string, bool) {
	data, found, err := c.store.Get(clusterOfPrefix + addr)
	if err != nil {
		logger.Error("Failed to read cluster assignment", "address", addr, "error", err)
		return "", false
	}
	if !found || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// ClusterMembers returns all member addresses of the cluster identified by
// a cluster id or by any member address. Unknown ids yield an empty set.
func (c *StoreWalletClusterer) ClusterMembers(idOrAddr string) []string {
	clusterID := idOrAddr
	if id, found := c.ClusterForAddress(idOrAddr); found {
		clusterID = id
	}
	prefix := clusterMemberPrefix + clusterID + "_"
	keys, err := c.store.ListKeysWithPrefix(prefix)
	if err != nil {
		logger.Error("Failed to list cluster members", "cluster", clusterID, "error", err)
		return nil
	}
	members := make([]string, 0, len(keys))
	for _, key := range keys {
		members = append(members, key[len(prefix):])
	}
	return members
}

// StoreActivityOracle implements ActivityOracle over fixed store keys.
type StoreActivityOracle struct {
	store Store
}

// NewStoreActivityOracle returns an ActivityOracle backed by store.
func NewStoreActivityOracle(store Store) *StoreActivityOracle {
	return &StoreActivityOracle{store: store}
}

// RecordActivity bumps the activity counter for addr and records its first
// appearance when not yet seen.
func (o *StoreActivityOracle) RecordActivity(addr string, now int64) {
	if o.FirstSeenTime(addr) == 0 {
		value := strconv.FormatInt(now, 10)
		if err := o.store.Put(firstSeenPrefix+addr, []byte(value)); err != nil {
			logger.Error("Failed to store first-seen time", "address", addr, "error", err)
		}
	}
	count := o.ActivityCount(addr) + 1
	if err := o.store.Put(activityCountPrefix+addr, []byte(strconv.Itoa(count))); err != nil {
		logger.Error("Failed to store activity count", "address", addr, "error", err)
	}
}

// FirstSeenTime returns the unix time addr first appeared, or 0.
func (o *StoreActivityOracle) FirstSeenTime(addr string) int64 {
	data, found, err := o.store.Get(firstSeenPrefix + addr)
	if err != nil || !found {
		return 0
	}
	t, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		logger.Warn("Skipping malformed first-seen record", "address", addr, "error", err)
		return 0
	}
	return t
}

// ActivityCount returns the number of recorded transactions for addr.
func (o *StoreActivityOracle) ActivityCount(addr string) int {
	data, found, err := o.store.Get(activityCountPrefix + addr)
	if err != nil || !found {
		return 0
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		logger.Warn("Skipping malformed activity count record", "address", addr, "error", err)
		return 0
	}
	return n
}
