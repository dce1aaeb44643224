package main

import (
	"sort"
	"strings"
)

// Trust weight bounds for a single edge
const (
	MinTrustWeight = -100
	MaxTrustWeight = 100
)

// coinUnit is the number of base units per coin, used when bond amounts
// weight a trust score.
const coinUnit = 100_000_000

// Storage key prefixes. Every persisted record lives under one of these so
// that in-memory indexes can be rebuilt by prefix scan.
const (
	trustPropPrefix      = "trust_prop_"
	trustPropIdxPrefix   = "trust_prop_idx_"
	validatorNetPrefix   = "validator_net_"
	validatorStakePrefix = "validator_stake_"
	flaggedAddrPrefix    = "flagged_addr_"
	clusterOfPrefix      = "cluster_of_"
	clusterMemberPrefix  = "cluster_member_"
	trustEdgeInPrefix    = "trust_edge_in_"
	trustEdgeOutPrefix   = "trust_edge_out_"
	firstSeenPrefix      = "first_seen_"
	activityCountPrefix  = "activity_count_"
)

// TrustEdge is a direct, bonded trust assertion recorded by the ledger
// layer. The engine treats these as read-only inputs.
type TrustEdge struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Weight     int    `json:"weight"`     // -100..+100
	BondAmount int64  `json:"bondAmount"` // base units backing the assertion
	Timestamp  int64  `json:"timestamp"`  // unix seconds
	BondTx     string `json:"bondTx"`     // originating transaction id
}

// PropagatedTrustEdge is a trust edge synthetically copied onto a wallet
// cluster member. It always references the transaction of the direct edge it
// was derived from, so revocations and re-weightings can find it through the
// reverse index.
type PropagatedTrustEdge struct {
	From              string `json:"from"`
	To                string `json:"to"` // cluster member receiving the copy
	OriginalTarget    string `json:"originalTarget"`
	SourceEdgeTx      string `json:"sourceEdgeTx"`
	Weight            int    `json:"weight"`
	BondAmount        int64  `json:"bondAmount"`
	OriginalTimestamp int64  `json:"originalTimestamp"`
	PropagatedAt      int64  `json:"propagatedAt"`
}

// StorageKey returns the primary key for this propagated edge.
func (e PropagatedTrustEdge) StorageKey() string {
	return trustPropPrefix + e.From + "_" + e.To
}

// IndexKey returns the reverse-index key (source edge tx -> target).
func (e PropagatedTrustEdge) IndexKey() string {
	return trustPropIdxPrefix + e.SourceEdgeTx + "_" + e.To
}

// ClusterTrustSummary is the aggregated trust view of one wallet cluster.
// EffectiveScore is the minimum of the per-member scores: a cluster can
// never look better than its worst member.
type ClusterTrustSummary struct {
	ClusterID          string   `json:"clusterId"`
	Members            []string `json:"members"`
	TotalPositiveTrust int64    `json:"totalPositiveTrust"`
	TotalNegativeTrust int64    `json:"totalNegativeTrust"` // stored negative
	EdgeCount          int      `json:"edgeCount"`          // distinct trusters
	EffectiveScore     float64  `json:"effectiveScore"`
	LastUpdated        int64    `json:"lastUpdated"`
}

// MemberCount returns the number of addresses in the cluster.
func (s ClusterTrustSummary) MemberCount() int {
	return len(s.Members)
}

// HasMember reports whether the address belongs to the cluster.
func (s ClusterTrustSummary) HasMember(addr string) bool {
	for _, m := range s.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// NetTrust returns positive plus negative incoming weight.
func (s ClusterTrustSummary) NetTrust() int64 {
	return s.TotalPositiveTrust + s.TotalNegativeTrust
}

// estimatedSize is the byte estimate charged against the summary cache
// budget.
func (s ClusterTrustSummary) estimatedSize() int {
	size := 96 + len(s.ClusterID)
	for _, m := range s.Members {
		size += 16 + len(m)
	}
	return size
}

// PropagationResult reports the outcome of one propagation operation.
// WasLimited means the cluster exceeded the hard size cap and only the first
// maxClusterSize members (in sorted order) were processed.
type PropagationResult struct {
	PropagatedCount     int  `json:"propagatedCount"`
	WasLimited          bool `json:"wasLimited"`
	OriginalClusterSize int  `json:"originalClusterSize"`
}

// maxTimestampsPerTask bounds the per-task validation timestamp history kept
// on a ValidatorNetworkInfo record.
const maxTimestampsPerTask = 100

// ValidatorNetworkInfo tracks the observed network behavior of a validator.
type ValidatorNetworkInfo struct {
	Address             string   `json:"address"`
	IPAddress           string   `json:"ipAddress"`
	ConnectedPeers      []string `json:"connectedPeers"`
	FirstSeen           int64    `json:"firstSeen"` // block height
	ValidationCount     int      `json:"validationCount"`
	AccurateValidations int      `json:"accurateValidations"`

	// RecentValidationTimes maps a validation task id to the most recent
	// response timestamps (milliseconds), newest last, bounded per task.
	RecentValidationTimes map[string][]int64 `json:"recentValidationTimes,omitempty"`
}

// Accuracy returns the fraction of validations that were accurate.
func (v ValidatorNetworkInfo) Accuracy() float64 {
	if v.ValidationCount == 0 {
		return 0.0
	}
	return float64(v.AccurateValidations) / float64(v.ValidationCount)
}

// ValidatorStakeInfo tracks the stake backing a validator.
type ValidatorStakeInfo struct {
	Address        string           `json:"address"`
	TotalStake     int64            `json:"totalStake"`
	StakeSources   map[string]int64 `json:"stakeSources"`   // source addr -> amount
	OldestStakeAge int64            `json:"oldestStakeAge"` // blocks
}

// StakeSourceCount returns the number of distinct funding sources.
func (v ValidatorStakeInfo) StakeSourceCount() int {
	return len(v.StakeSources)
}

// SybilDetectionResult is the outcome of a collusion audit over a validator
// set. Confidence is triggeredSignals/5; the verdict requires at least two
// signals and confidence >= 0.40.
type SybilDetectionResult struct {
	IsSybilNetwork       bool     `json:"isSybilNetwork"`
	Confidence           float64  `json:"confidence"`
	SuspiciousValidators []string `json:"suspiciousValidators,omitempty"`
	Reason               string   `json:"reason,omitempty"`

	HasTopologyCollusion   bool `json:"hasTopologyCollusion"`
	HasPeerCollusion       bool `json:"hasPeerCollusion"`
	HasStakeCollusion      bool `json:"hasStakeCollusion"`
	HasBehavioralCollusion bool `json:"hasBehavioralCollusion"`
	HasWoTCollusion        bool `json:"hasWoTCollusion"`
}

// ManipulationType identifies which detector produced a result.
type ManipulationType string

const (
	ManipulationNone       ManipulationType = "NONE"
	ArtificialPathCreation ManipulationType = "ARTIFICIAL_PATH_CREATION"
	CircularTrustRing      ManipulationType = "CIRCULAR_TRUST_RING"
	RapidTrustAccumulation ManipulationType = "RAPID_TRUST_ACCUMULATION"
	CoordinatedTrustBoost  ManipulationType = "COORDINATED_TRUST_BOOST"
	SybilTrustNetwork      ManipulationType = "SYBIL_TRUST_NETWORK"
	TrustWashing           ManipulationType = "TRUST_WASHING"
	ReciprocalTrustAbuse   ManipulationType = "RECIPROCAL_TRUST_ABUSE"
)

// TrustManipulationResult is the output of one manipulation detector.
// EscalateToDAO marks the result for external governance review.
type TrustManipulationResult struct {
	Type              ManipulationType `json:"type"`
	Confidence        float64          `json:"confidence"`
	InvolvedAddresses []string         `json:"involvedAddresses,omitempty"`
	SuspiciousEdges   []TrustEdge      `json:"suspiciousEdges,omitempty"`
	Description       string           `json:"description,omitempty"`
	EscalateToDAO     bool             `json:"escalateToDAO"`
}

// sortedAddresses returns the set's members in deterministic order. Cluster
// truncation and merge iteration depend on this ordering being identical on
// every node.
func sortedAddresses(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// isPropagatedPrimaryKey reports whether key belongs to the primary
// propagated-edge table rather than its reverse index. The target address
// is always read from the stored record, never parsed out of the key,
// since merged cluster ids can put underscores inside the address segment.
func isPropagatedPrimaryKey(key string) bool {
	return strings.HasPrefix(key, trustPropPrefix) &&
		!strings.HasPrefix(key, trustPropIdxPrefix)
}
