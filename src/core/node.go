package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Package-level logger
var logger *slog.Logger

// initLogger initializes the structured logger based on the log level
func initLogger(logLevel string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
}

// TrustNode is the main server structure. It owns the store and the three
// engine components and serves the HTTP API over them.
type TrustNode struct {
	NodeID string
	Config *Config

	Store     Store
	Graph     *StoreTrustGraph
	Clusterer *StoreWalletClusterer
	Oracle    *StoreActivityOracle

	Propagator *TrustPropagator
	Sybil      *EclipseSybilProtection
	Detector   *TrustManipulationDetector
}

func main() {
	// Load configuration
	cfg := LoadConfig()

	// Initialize structured logger
	initLogger(cfg.LogLevel)

	store, err := OpenBadgerStore(BadgerConfig{
		Path:       cfg.DataDir,
		SyncWrites: true,
	})
	if err != nil {
		logger.Error("Failed to open store", "dataDir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	node := NewTrustNode(cfg, store)

	// Start HTTP server
	if err := node.StartServer(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// NewTrustNode wires the engine components over one store. The detector
// rebuilds its flagged-address index from the store during construction.
func NewTrustNode(cfg *Config, store Store) *TrustNode {
	graph := NewStoreTrustGraph(store)
	clusterer := NewStoreWalletClusterer(store)
	oracle := NewStoreActivityOracle(store)

	node := &TrustNode{
		NodeID:     uuid.New().String(),
		Config:     cfg,
		Store:      store,
		Graph:      graph,
		Clusterer:  clusterer,
		Oracle:     oracle,
		Propagator: NewTrustPropagator(store, graph, clusterer, cfg.CacheMaxBytes),
		Sybil:      NewEclipseSybilProtection(store, graph, clusterer),
		Detector:   NewTrustManipulationDetector(store, graph, clusterer, oracle, cfg.DetectorConfig()),
	}

	logger.Info("Initialized trust node", "nodeId", node.NodeID, "dataDir", cfg.DataDir)
	return node
}

// RecordTrustEdge ingests a new direct trust edge from the ledger layer:
// it screens the edge, records it in the graph, tracks source activity, and
// propagates it across the target's wallet cluster.
func (node *TrustNode) RecordTrustEdge(edge TrustEdge) (TrustManipulationResult, PropagationResult, error) {
	screening := node.Detector.AnalyzeTrustEdge(edge)
	if screening.Type != ManipulationNone {
		logger.Warn("Suspicious trust edge recorded",
			"from", edge.From, "to", edge.To,
			"type", screening.Type, "confidence", screening.Confidence)
	}

	if err := node.Graph.RecordTrustEdge(edge); err != nil {
		return screening, PropagationResult{}, fmt.Errorf("failed to record trust edge: %w", err)
	}
	node.Oracle.RecordActivity(edge.From, edge.Timestamp)
	node.Oracle.RecordActivity(edge.To, edge.Timestamp)

	result := node.Propagator.PropagateTrustEdgeWithResult(edge)
	return screening, result, nil
}
