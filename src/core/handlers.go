package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter builds the API router with the standard middleware chain.
func (node *TrustNode) NewRouter() *mux.Router {
	router := mux.NewRouter()

	limiter := NewIPRateLimiter(node.Config.RateLimitPerMinute)
	router.Use(RequestIDMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(RateLimitMiddleware(limiter))
	router.Use(BodySizeLimitMiddleware(node.Config.MaxBodySizeBytes))

	// API endpoints
	router.HandleFunc("/api/health", node.HealthCheckHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Propagation queries
	router.HandleFunc("/api/clusters/{address}/summary", node.GetClusterSummaryHandler).Methods("GET")
	router.HandleFunc("/api/addresses/{address}/propagated", node.GetPropagatedByAddressHandler).Methods("GET")
	router.HandleFunc("/api/sources/{tx}/propagated", node.GetPropagatedBySourceHandler).Methods("GET")
	router.HandleFunc("/api/cache/stats", node.GetCacheStatsHandler).Methods("GET")

	// Ledger callbacks
	router.HandleFunc("/api/edges", node.RecordTrustEdgeHandler).Methods("POST")
	router.HandleFunc("/api/clusters/{cluster}/members", node.AddClusterMemberHandler).Methods("POST")
	router.HandleFunc("/api/clusters/merge", node.MergeClustersHandler).Methods("POST")
	router.HandleFunc("/api/sources/{tx}/propagated", node.DeletePropagatedHandler).Methods("DELETE")
	router.HandleFunc("/api/sources/{tx}/weight", node.UpdatePropagatedWeightHandler).Methods("PUT")
	router.HandleFunc("/api/admin/reindex", node.ReindexHandler).Methods("POST")

	// Validator gating and audits
	router.HandleFunc("/api/validators/{address}/eligibility", node.ValidatorEligibilityHandler).Methods("GET")
	router.HandleFunc("/api/validators/diversity", node.ValidatorDiversityHandler).Methods("POST")
	router.HandleFunc("/api/validators/sybil-audit", node.SybilAuditHandler).Methods("POST")
	router.HandleFunc("/api/validators/agreement", node.CrossGroupAgreementHandler).Methods("POST")

	// Validator observation callbacks
	router.HandleFunc("/api/validators/{address}/network", node.UpdateValidatorNetworkHandler).Methods("POST")
	router.HandleFunc("/api/validators/{address}/stake", node.UpdateValidatorStakeHandler).Methods("POST")
	router.HandleFunc("/api/validators/{address}/validation-result", node.RecordValidationResultHandler).Methods("POST")
	router.HandleFunc("/api/validators/{address}/validation-timestamp", node.RecordValidationTimestampHandler).Methods("POST")

	// Manipulation detection
	router.HandleFunc("/api/addresses/{address}/analysis", node.AnalyzeAddressHandler).Methods("GET")
	router.HandleFunc("/api/addresses/{address}/health-score", node.HealthScoreHandler).Methods("GET")
	router.HandleFunc("/api/flagged", node.GetFlaggedAddressesHandler).Methods("GET")
	router.HandleFunc("/api/flagged/{address}", node.UnflagAddressHandler).Methods("DELETE")

	return router
}

// StartServer starts the HTTP server for API endpoints
func (node *TrustNode) StartServer(port string) error {
	handler := otelhttp.NewHandler(node.NewRouter(), "trustweave")

	logger.Info("Starting trust node server", "port", port, "nodeId", node.NodeID)
	return http.ListenAndServe(":"+port, handler)
}

// HealthCheckHandler handles health check requests
func (node *TrustNode) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"node_id": node.NodeID,
		"version": "1.0.0",
	})
}

// GetClusterSummaryHandler returns the aggregated trust view of the cluster
// containing an address
func (node *TrustNode) GetClusterSummaryHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(node.Propagator.GetClusterTrustSummary(addr))
}

// GetPropagatedByAddressHandler returns propagated edges targeting an address
func (node *TrustNode) GetPropagatedByAddressHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	edges := node.Propagator.GetPropagatedEdgesForAddress(addr)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"address": addr,
		"edges":   edges,
		"count":   len(edges),
	})
}

// GetPropagatedBySourceHandler returns propagated edges derived from a
// source transaction
func (node *TrustNode) GetPropagatedBySourceHandler(w http.ResponseWriter, r *http.Request) {
	tx := mux.Vars(r)["tx"]
	if !IsValidTxID(tx) {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}
	edges := node.Propagator.GetPropagatedEdgesBySource(tx)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"source_tx": tx,
		"edges":     edges,
		"count":     len(edges),
	})
}

// GetCacheStatsHandler returns summary cache statistics
func (node *TrustNode) GetCacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"size_bytes":  node.Propagator.CacheSize(),
		"max_bytes":   node.Propagator.CacheMaxSize(),
		"entry_count": node.Propagator.CacheEntryCount(),
	})
}

// RecordTrustEdgeHandler ingests a new direct trust edge from the ledger
func (node *TrustNode) RecordTrustEdgeHandler(w http.ResponseWriter, r *http.Request) {
	var edge TrustEdge
	if err := DecodeJSONBody(w, r, &edge); err != nil {
		return
	}
	if !ValidateTrustEdge(edge) {
		http.Error(w, "Invalid trust edge", http.StatusBadRequest)
		return
	}

	screening, result, err := node.RecordTrustEdge(edge)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "success",
		"propagation": result,
		"screening":   screening,
	})
}

// AddClusterMemberHandler registers a newly discovered cluster member and
// inherits the cluster's trust onto it
func (node *TrustNode) AddClusterMemberHandler(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["cluster"]
	if !IsValidClusterID(clusterID) {
		http.Error(w, "Invalid cluster id", http.StatusBadRequest)
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !IsValidAddress(req.Address) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	if err := node.Clusterer.AssignCluster(req.Address, clusterID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	inherited := node.Propagator.InheritTrustForNewMember(req.Address, clusterID)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "success",
		"inherited_edges": inherited,
	})
}

// MergeClustersHandler re-propagates trust over a merged cluster
func (node *TrustNode) MergeClustersHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cluster1 string `json:"cluster1"`
		Cluster2 string `json:"cluster2"`
		MergedID string `json:"mergedId"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !IsValidClusterID(req.Cluster1) || !IsValidClusterID(req.Cluster2) || !IsValidClusterID(req.MergedID) {
		http.Error(w, "Invalid cluster id", http.StatusBadRequest)
		return
	}

	ok := node.Propagator.HandleClusterMerge(req.Cluster1, req.Cluster2, req.MergedID)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"merged":  req.MergedID,
		"partial": !ok,
	})
}

// DeletePropagatedHandler removes propagated edges when the source edge is
// revoked
func (node *TrustNode) DeletePropagatedHandler(w http.ResponseWriter, r *http.Request) {
	tx := mux.Vars(r)["tx"]
	if !IsValidTxID(tx) {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}
	deleted := node.Propagator.DeletePropagatedEdges(tx)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
	})
}

// UpdatePropagatedWeightHandler re-weights propagated edges when the source
// edge changes
func (node *TrustNode) UpdatePropagatedWeightHandler(w http.ResponseWriter, r *http.Request) {
	tx := mux.Vars(r)["tx"]
	if !IsValidTxID(tx) {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}
	var req struct {
		Weight int `json:"weight"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !ValidateWeight(req.Weight) {
		http.Error(w, "Weight out of range", http.StatusBadRequest)
		return
	}
	updated := node.Propagator.UpdatePropagatedEdges(tx, req.Weight)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"updated": updated,
	})
}

// ReindexHandler rebuilds the propagated edge source index by full scan
func (node *TrustNode) ReindexHandler(w http.ResponseWriter, r *http.Request) {
	rebuilt := node.Propagator.RebuildSourceIndex()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"entries": rebuilt,
	})
}

// ValidatorEligibilityHandler checks the four eligibility gates for one
// validator
func (node *TrustNode) ValidatorEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	height, err := strconv.ParseInt(r.URL.Query().Get("height"), 10, 64)
	if err != nil || height < 0 {
		http.Error(w, "Invalid height", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"address":  addr,
		"height":   height,
		"eligible": node.Sybil.IsValidatorEligible(addr, height),
	})
}

// ValidatorDiversityHandler checks set-level diversity gates
func (node *TrustNode) ValidatorDiversityHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Validators []string `json:"validators"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !ValidateValidatorSet(req.Validators) {
		http.Error(w, "Invalid validator set", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"set_size": len(req.Validators),
		"diverse":  node.Sybil.ValidateValidatorSetDiversity(req.Validators),
	})
}

// SybilAuditHandler runs the five-signal collusion audit over a set
func (node *TrustNode) SybilAuditHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Validators []string `json:"validators"`
		Height     int64    `json:"height"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !ValidateValidatorSet(req.Validators) {
		http.Error(w, "Invalid validator set", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(node.Sybil.DetectSybilNetwork(req.Validators, req.Height))
}

// CrossGroupAgreementHandler compares WoT and non-WoT validator votes
func (node *TrustNode) CrossGroupAgreementHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Validators []string           `json:"validators"`
		Votes      map[string]float64 `json:"votes"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !ValidateValidatorSet(req.Validators) {
		http.Error(w, "Invalid validator set", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"agreement": node.Sybil.CheckCrossGroupAgreement(req.Validators, req.Votes),
	})
}

// UpdateValidatorNetworkHandler ingests a network observation callback
func (node *TrustNode) UpdateValidatorNetworkHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	var req struct {
		IPAddress string   `json:"ipAddress"`
		Peers     []string `json:"peers"`
		Height    int64    `json:"height"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if len(req.Peers) > MaxPeerListSize {
		http.Error(w, "Peer list too large", http.StatusBadRequest)
		return
	}
	node.Sybil.UpdateValidatorNetworkInfo(addr, req.IPAddress, req.Peers, req.Height)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
}

// UpdateValidatorStakeHandler ingests a stake observation callback
func (node *TrustNode) UpdateValidatorStakeHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	var info ValidatorStakeInfo
	if err := DecodeJSONBody(w, r, &info); err != nil {
		return
	}
	if info.TotalStake < 0 || info.OldestStakeAge < 0 {
		http.Error(w, "Invalid stake info", http.StatusBadRequest)
		return
	}
	node.Sybil.UpdateValidatorStakeInfo(addr, info)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
}

// RecordValidationResultHandler records one validation outcome
func (node *TrustNode) RecordValidationResultHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	var req struct {
		Accurate bool `json:"accurate"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	node.Sybil.RecordValidationResult(addr, req.Accurate)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
}

// RecordValidationTimestampHandler records one task response timestamp
func (node *TrustNode) RecordValidationTimestampHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	var req struct {
		TaskID      string `json:"taskId"`
		TimestampMs int64  `json:"timestampMs"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if req.TaskID == "" || !ValidateStringField(req.TaskID, MaxTaskIDLength) || req.TimestampMs <= 0 {
		http.Error(w, "Invalid timestamp record", http.StatusBadRequest)
		return
	}
	node.Sybil.RecordValidationTimestamp(addr, req.TaskID, req.TimestampMs)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
}

// AnalyzeAddressHandler runs the seven manipulation detectors
func (node *TrustNode) AnalyzeAddressHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(node.Detector.AnalyzeAddress(addr))
}

// HealthScoreHandler returns the trust graph health score for an address
func (node *TrustNode) HealthScoreHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"address": addr,
		"score":   node.Detector.CalculateTrustGraphHealthScore(addr),
	})
}

// GetFlaggedAddressesHandler lists every flagged address
func (node *TrustNode) GetFlaggedAddressesHandler(w http.ResponseWriter, r *http.Request) {
	flagged := node.Detector.GetFlaggedAddresses()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"flagged": flagged,
		"count":   len(flagged),
	})
}

// UnflagAddressHandler removes a flag after governance review
func (node *TrustNode) UnflagAddressHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !IsValidAddress(addr) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}
	if !node.Detector.UnflagAddress(addr) {
		http.Error(w, "Address not flagged", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
}
