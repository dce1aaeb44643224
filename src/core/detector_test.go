package main

import (
	"testing"
	"time"
)

const detectorTestNow = int64(1_700_000_000)

func newTestDetector(cfg DetectorConfig) (*TrustManipulationDetector, *MemStore, *StoreTrustGraph, *StoreWalletClusterer, *StoreActivityOracle) {
	store := NewMemStore()
	graph := NewStoreTrustGraph(store)
	clusterer := NewStoreWalletClusterer(store)
	oracle := NewStoreActivityOracle(store)
	detector := NewTrustManipulationDetector(store, graph, clusterer, oracle, cfg)
	detector.now = func() int64 { return detectorTestNow }
	return detector, store, graph, clusterer, oracle
}

func TestDetectCircularTrustRing(t *testing.T) {
	t.Run("three-address cycle is a ring", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "a", To: "b", Weight: 50, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "b", To: "c", Weight: 50, Timestamp: 1000, BondTx: "tx2"})
		graph.RecordTrustEdge(TrustEdge{From: "c", To: "a", Weight: 50, Timestamp: 1000, BondTx: "tx3"})

		result := d.DetectCircularTrustRing("a")
		if result.Type != CircularTrustRing {
			t.Fatalf("Expected circular trust ring, got %s", result.Type)
		}
		if len(result.InvolvedAddresses) != 3 {
			t.Errorf("Expected 3 involved addresses, got %d", len(result.InvolvedAddresses))
		}
		if result.Confidence < 0.90 {
			t.Errorf("Expected short-ring confidence above 0.90, got %.3f", result.Confidence)
		}
		if !result.EscalateToDAO {
			t.Error("Expected rings to always escalate")
		}
		if len(result.SuspiciousEdges) != 3 {
			t.Errorf("Expected 3 ring edges, got %d", len(result.SuspiciousEdges))
		}
	})

	t.Run("mutual pair is not a ring", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "a", To: "b", Weight: 50, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "b", To: "a", Weight: 50, Timestamp: 1000, BondTx: "tx2"})

		if result := d.DetectCircularTrustRing("a"); result.Type != ManipulationNone {
			t.Errorf("Expected no ring for a 2-cycle, got %s", result.Type)
		}
	})

	t.Run("longer rings score lower", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		chain := []string{"a", "b", "c", "d", "e", "f"}
		for i, from := range chain {
			to := chain[(i+1)%len(chain)]
			graph.RecordTrustEdge(TrustEdge{From: from, To: to, Weight: 50, Timestamp: 1000, BondTx: "tx" + from})
		}

		result := d.DetectCircularTrustRing("a")
		if result.Type != CircularTrustRing {
			t.Fatalf("Expected ring, got %s", result.Type)
		}
		if result.Confidence >= 0.90 {
			t.Errorf("Expected 6-hop ring to score below a 3-hop ring, got %.3f", result.Confidence)
		}
	})
}

func TestDetectArtificialPathCreation(t *testing.T) {
	t.Run("clustered identical edges from fresh sources flag", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		for i, src := range []string{"s1", "s2", "s3"} {
			graph.RecordTrustEdge(TrustEdge{
				From: src, To: "target", Weight: 50,
				Timestamp: int64(1000 + i*1000), BondTx: "tx" + src,
			})
		}

		result := d.DetectArtificialPathCreation("target")
		if result.Type != ArtificialPathCreation {
			t.Fatalf("Expected artificial path creation, got %s", result.Type)
		}
		if result.Confidence < 0.99 {
			t.Errorf("Expected near-certain confidence, got %.3f", result.Confidence)
		}
		if !result.EscalateToDAO {
			t.Error("Expected escalation above 0.80")
		}
	})

	t.Run("too few incoming edges never flag", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "s1", To: "target", Weight: 50, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "s2", To: "target", Weight: 50, Timestamp: 2000, BondTx: "tx2"})

		if result := d.DetectArtificialPathCreation("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding with 2 edges, got %s", result.Type)
		}
	})

	t.Run("organic sources stay below the threshold", func(t *testing.T) {
		d, _, graph, _, oracle := newTestDetector(DetectorConfig{})
		sources := []string{"s1", "s2", "s3"}
		for _, src := range sources {
			for i := 0; i < genuineMinActivity; i++ {
				oracle.RecordActivity(src, detectorTestNow-30*24*3600+int64(i))
			}
			graph.RecordTrustEdge(TrustEdge{From: src, To: "p1" + src, Weight: 20, Timestamp: 500, BondTx: "ca" + src})
			graph.RecordTrustEdge(TrustEdge{From: src, To: "p2" + src, Weight: 20, Timestamp: 600, BondTx: "cb" + src})
			graph.RecordTrustEdge(TrustEdge{From: "p3" + src, To: src, Weight: 20, Timestamp: 700, BondTx: "cc" + src})
		}
		// Uneven arrival times and weights from established sources.
		graph.RecordTrustEdge(TrustEdge{From: "s1", To: "target", Weight: 10, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "s2", To: "target", Weight: 50, Timestamp: 2000, BondTx: "tx2"})
		graph.RecordTrustEdge(TrustEdge{From: "s3", To: "target", Weight: 90, Timestamp: 50000, BondTx: "tx3"})

		if result := d.DetectArtificialPathCreation("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for organic sources, got %s", result.Type)
		}
	})
}

func TestDetectRapidTrustAccumulation(t *testing.T) {
	cfg := DetectorConfig{RapidWindow: time.Hour}

	t.Run("burst of heavy edges flags and escalates", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(cfg)
		for i, src := range []string{"s1", "s2", "s3", "s4", "s5"} {
			graph.RecordTrustEdge(TrustEdge{
				From: src, To: "target", Weight: 50,
				Timestamp: detectorTestNow - int64(i*10), BondTx: "tx" + src,
			})
		}

		result := d.DetectRapidTrustAccumulation("target")
		if result.Type != RapidTrustAccumulation {
			t.Fatalf("Expected rapid accumulation, got %s", result.Type)
		}
		if result.Confidence != 1.0 {
			t.Errorf("Expected saturated confidence 1.0, got %.3f", result.Confidence)
		}
		if !result.EscalateToDAO {
			t.Error("Expected escalation above 0.90")
		}
	})

	t.Run("slow accumulation never flags", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(cfg)
		graph.RecordTrustEdge(TrustEdge{From: "s1", To: "target", Weight: 10, Timestamp: detectorTestNow - 10, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "s2", To: "target", Weight: 10, Timestamp: detectorTestNow - 20, BondTx: "tx2"})

		if result := d.DetectRapidTrustAccumulation("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for 2 light edges, got %s", result.Type)
		}
	})

	t.Run("edges outside the window are ignored", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(cfg)
		for i, src := range []string{"s1", "s2", "s3", "s4", "s5"} {
			graph.RecordTrustEdge(TrustEdge{
				From: src, To: "target", Weight: 50,
				Timestamp: detectorTestNow - 7200 - int64(i), BondTx: "tx" + src,
			})
		}

		if result := d.DetectRapidTrustAccumulation("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for stale edges, got %s", result.Type)
		}
	})
}

func TestDetectCoordinatedTrustBoost(t *testing.T) {
	t.Run("bursts of clustered sources flag", func(t *testing.T) {
		d, _, graph, clusterer, _ := newTestDetector(DetectorConfig{})
		sources := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}
		for _, src := range sources {
			clusterer.AssignCluster(src, "boosters")
		}
		// Two bursts of four edges, each inside one window bucket.
		for i, src := range sources {
			ts := int64(3600*100 + i%4)
			if i >= 4 {
				ts = int64(3600*200 + i%4)
			}
			graph.RecordTrustEdge(TrustEdge{From: src, To: "target", Weight: 60, Timestamp: ts, BondTx: "tx" + src})
		}

		result := d.DetectCoordinatedTrustBoost("target")
		if result.Type != CoordinatedTrustBoost {
			t.Fatalf("Expected coordinated boost, got %s", result.Type)
		}
		if result.Confidence != 0.8 {
			t.Errorf("Expected confidence 0.8 for 8 flagged edges, got %.3f", result.Confidence)
		}
		if result.EscalateToDAO {
			t.Error("Expected no escalation below 0.85")
		}
	})

	t.Run("one burst from unrelated sources never flags", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		for i, src := range []string{"s1", "s2", "s3", "s4"} {
			graph.RecordTrustEdge(TrustEdge{
				From: src, To: "target", Weight: 60,
				Timestamp: int64(3600*100 + i), BondTx: "tx" + src,
			})
		}

		if result := d.DetectCoordinatedTrustBoost("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for a small unclustered burst, got %s", result.Type)
		}
	})
}

func TestDetectSybilTrustNetwork(t *testing.T) {
	t.Run("dense intra-cluster trust flags and escalates", func(t *testing.T) {
		d, _, graph, clusterer, _ := newTestDetector(DetectorConfig{})
		for _, m := range []string{"m1", "m2", "m3"} {
			clusterer.AssignCluster(m, "farm")
		}
		graph.RecordTrustEdge(TrustEdge{From: "m1", To: "m2", Weight: 80, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "m2", To: "m3", Weight: 80, Timestamp: 1000, BondTx: "tx2"})
		graph.RecordTrustEdge(TrustEdge{From: "m3", To: "m1", Weight: 80, Timestamp: 1000, BondTx: "tx3"})

		result := d.DetectSybilTrustNetwork("m1")
		if result.Type != SybilTrustNetwork {
			t.Fatalf("Expected Sybil trust network, got %s", result.Type)
		}
		if result.Confidence != 1.0 {
			t.Errorf("Expected confidence 1.0 at density 0.5, got %.3f", result.Confidence)
		}
		if !result.EscalateToDAO {
			t.Error("Expected Sybil findings to always escalate")
		}
	})

	t.Run("sparse intra-cluster trust never flags", func(t *testing.T) {
		d, _, graph, clusterer, _ := newTestDetector(DetectorConfig{})
		for _, m := range []string{"m1", "m2", "m3", "m4"} {
			clusterer.AssignCluster(m, "farm")
		}
		graph.RecordTrustEdge(TrustEdge{From: "m1", To: "m2", Weight: 80, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "m2", To: "m3", Weight: 80, Timestamp: 1000, BondTx: "tx2"})

		if result := d.DetectSybilTrustNetwork("m1"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding with 2 intra edges, got %s", result.Type)
		}
	})

	t.Run("unclustered address never flags", func(t *testing.T) {
		d, _, _, _, _ := newTestDetector(DetectorConfig{})
		if result := d.DetectSybilTrustNetwork("loner"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for unclustered address, got %s", result.Type)
		}
	})
}

func TestDetectTrustWashing(t *testing.T) {
	t.Run("fresh pass-through sources flag", func(t *testing.T) {
		d, _, graph, _, oracle := newTestDetector(DetectorConfig{})
		edgeTime := detectorTestNow - 1000
		for _, src := range []string{"s1", "s2", "s3", "s4"} {
			oracle.RecordActivity(src, edgeTime-3600)
			graph.RecordTrustEdge(TrustEdge{From: "x", To: src, Weight: 40, Timestamp: edgeTime - 3000, BondTx: "feed" + src})
			graph.RecordTrustEdge(TrustEdge{From: src, To: "target", Weight: 40, Timestamp: edgeTime, BondTx: "tx" + src})
		}

		result := d.DetectTrustWashing("target")
		if result.Type != TrustWashing {
			t.Fatalf("Expected trust washing, got %s", result.Type)
		}
		if result.Confidence != 0.8 {
			t.Errorf("Expected confidence 0.8 for 4 pass-through edges, got %.3f", result.Confidence)
		}
		if result.EscalateToDAO {
			t.Error("Expected no escalation below 0.85")
		}
	})

	t.Run("aged sources never flag", func(t *testing.T) {
		d, _, graph, _, oracle := newTestDetector(DetectorConfig{})
		edgeTime := detectorTestNow - 1000
		for _, src := range []string{"s1", "s2", "s3", "s4"} {
			// Sources created well before the wash window.
			oracle.RecordActivity(src, edgeTime-30*24*3600)
			graph.RecordTrustEdge(TrustEdge{From: "x", To: src, Weight: 40, Timestamp: edgeTime - 3000, BondTx: "feed" + src})
			graph.RecordTrustEdge(TrustEdge{From: src, To: "target", Weight: 40, Timestamp: edgeTime, BondTx: "tx" + src})
		}

		if result := d.DetectTrustWashing("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for aged sources, got %s", result.Type)
		}
	})

	t.Run("fresh sources without incoming trust never flag", func(t *testing.T) {
		d, _, graph, _, oracle := newTestDetector(DetectorConfig{})
		edgeTime := detectorTestNow - 1000
		for _, src := range []string{"s1", "s2", "s3", "s4"} {
			oracle.RecordActivity(src, edgeTime-3600)
			graph.RecordTrustEdge(TrustEdge{From: src, To: "target", Weight: 40, Timestamp: edgeTime, BondTx: "tx" + src})
		}

		if result := d.DetectTrustWashing("target"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding without pass-through trust, got %s", result.Type)
		}
	})
}

func TestDetectReciprocalTrustAbuse(t *testing.T) {
	t.Run("exchanged pairs with idle counterparties flag", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		for _, peer := range []string{"x1", "x2"} {
			graph.RecordTrustEdge(TrustEdge{From: peer, To: "a", Weight: 50, Timestamp: 1000, BondTx: "in" + peer})
			graph.RecordTrustEdge(TrustEdge{From: "a", To: peer, Weight: 52, Timestamp: 1500, BondTx: "out" + peer})
		}

		result := d.DetectReciprocalTrustAbuse("a")
		if result.Type != ReciprocalTrustAbuse {
			t.Fatalf("Expected reciprocal trust abuse, got %s", result.Type)
		}
		if result.EscalateToDAO {
			t.Error("Expected no escalation for 2 pairs")
		}
		if len(result.SuspiciousEdges) != 4 {
			t.Errorf("Expected 4 suspicious edges, got %d", len(result.SuspiciousEdges))
		}
	})

	t.Run("active counterparties never flag", func(t *testing.T) {
		d, _, graph, _, oracle := newTestDetector(DetectorConfig{})
		for _, peer := range []string{"x1", "x2"} {
			for i := 0; i < reciprocalMaxActivity; i++ {
				oracle.RecordActivity(peer, int64(100+i))
			}
			graph.RecordTrustEdge(TrustEdge{From: peer, To: "a", Weight: 50, Timestamp: 1000, BondTx: "in" + peer})
			graph.RecordTrustEdge(TrustEdge{From: "a", To: peer, Weight: 52, Timestamp: 1500, BondTx: "out" + peer})
		}

		if result := d.DetectReciprocalTrustAbuse("a"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for active counterparties, got %s", result.Type)
		}
	})

	t.Run("one pair stays below the threshold", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "x1", To: "a", Weight: 50, Timestamp: 1000, BondTx: "in1"})
		graph.RecordTrustEdge(TrustEdge{From: "a", To: "x1", Weight: 52, Timestamp: 1500, BondTx: "out1"})

		if result := d.DetectReciprocalTrustAbuse("a"); result.Type != ManipulationNone {
			t.Errorf("Expected no finding for a single pair, got %s", result.Type)
		}
	})
}

func TestAnalyzeTrustEdge(t *testing.T) {
	t.Run("edges touching flagged addresses escalate", func(t *testing.T) {
		d, _, _, _, _ := newTestDetector(DetectorConfig{})
		d.FlagAddress("bad", TrustManipulationResult{Type: TrustWashing, Confidence: 0.9})

		result := d.AnalyzeTrustEdge(TrustEdge{From: "bad", To: "other", Weight: 10, Timestamp: 1000, BondTx: "tx1"})
		if result.Type != TrustWashing {
			t.Errorf("Expected prior flag type, got %s", result.Type)
		}
		if result.Confidence != flaggedPartyConfidence {
			t.Errorf("Expected confidence %.2f, got %.2f", flaggedPartyConfidence, result.Confidence)
		}
		if !result.EscalateToDAO {
			t.Error("Expected escalation for flagged party")
		}
	})

	t.Run("intra-cluster edges are reported as Sybil", func(t *testing.T) {
		d, _, _, clusterer, _ := newTestDetector(DetectorConfig{})
		clusterer.AssignCluster("a", "c1")
		clusterer.AssignCluster("b", "c1")

		result := d.AnalyzeTrustEdge(TrustEdge{From: "a", To: "b", Weight: 10, Timestamp: 1000, BondTx: "tx1"})
		if result.Type != SybilTrustNetwork {
			t.Errorf("Expected Sybil type for intra-cluster edge, got %s", result.Type)
		}
		if result.Confidence != sameClusterConfidence {
			t.Errorf("Expected confidence %.2f, got %.2f", sameClusterConfidence, result.Confidence)
		}
	})

	t.Run("quick reciprocal edges are reported without escalation", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "b", To: "a", Weight: 50, Timestamp: 1000, BondTx: "tx1"})

		result := d.AnalyzeTrustEdge(TrustEdge{From: "a", To: "b", Weight: 53, Timestamp: 2000, BondTx: "tx2"})
		if result.Type != ReciprocalTrustAbuse {
			t.Errorf("Expected reciprocal type, got %s", result.Type)
		}
		if result.EscalateToDAO {
			t.Error("Expected no escalation for quick reciprocal screen")
		}
	})

	t.Run("clean edges pass", func(t *testing.T) {
		d, _, _, _, _ := newTestDetector(DetectorConfig{})
		result := d.AnalyzeTrustEdge(TrustEdge{From: "a", To: "b", Weight: 10, Timestamp: 1000, BondTx: "tx1"})
		if result.Type != ManipulationNone {
			t.Errorf("Expected no finding, got %s", result.Type)
		}
	})
}

func TestAnalyzeAddress(t *testing.T) {
	t.Run("high-confidence findings are auto-flagged", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "a", To: "b", Weight: 50, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "b", To: "c", Weight: 50, Timestamp: 1000, BondTx: "tx2"})
		graph.RecordTrustEdge(TrustEdge{From: "c", To: "a", Weight: 50, Timestamp: 1000, BondTx: "tx3"})

		result := d.AnalyzeAddress("a")
		if result.Type != CircularTrustRing {
			t.Fatalf("Expected ring finding, got %s", result.Type)
		}
		if !d.IsAddressFlagged("a") {
			t.Error("Expected address to be auto-flagged above 0.70")
		}
	})

	t.Run("clean addresses are not flagged", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "x", To: "a", Weight: 50, Timestamp: 1000, BondTx: "tx1"})

		result := d.AnalyzeAddress("a")
		if result.Type != ManipulationNone {
			t.Errorf("Expected no finding, got %s", result.Type)
		}
		if d.IsAddressFlagged("a") {
			t.Error("Expected clean address to stay unflagged")
		}
	})
}

func TestCalculateTrustGraphHealthScore(t *testing.T) {
	t.Run("clean address scores 100", func(t *testing.T) {
		d, _, _, _, _ := newTestDetector(DetectorConfig{})
		if score := d.CalculateTrustGraphHealthScore("clean"); score != 100 {
			t.Errorf("Expected score 100, got %d", score)
		}
	})

	t.Run("flag alone costs 20 points", func(t *testing.T) {
		d, _, _, _, _ := newTestDetector(DetectorConfig{})
		d.FlagAddress("x", TrustManipulationResult{Type: TrustWashing, Confidence: 0.9})
		if score := d.CalculateTrustGraphHealthScore("x"); score != 80 {
			t.Errorf("Expected score 80 for flag without findings, got %d", score)
		}
	})

	t.Run("ring member scores near the floor", func(t *testing.T) {
		d, _, graph, _, _ := newTestDetector(DetectorConfig{})
		graph.RecordTrustEdge(TrustEdge{From: "a", To: "b", Weight: 50, Timestamp: 1000, BondTx: "tx1"})
		graph.RecordTrustEdge(TrustEdge{From: "b", To: "c", Weight: 50, Timestamp: 1000, BondTx: "tx2"})
		graph.RecordTrustEdge(TrustEdge{From: "c", To: "a", Weight: 50, Timestamp: 1000, BondTx: "tx3"})

		ring := d.DetectCircularTrustRing("a")
		want := clampScore(100 - int(ring.Confidence*50) - healthPenalties[CircularTrustRing] - 20)
		if score := d.CalculateTrustGraphHealthScore("a"); score != want {
			t.Errorf("Expected score %d, got %d", want, score)
		}
	})
}

func TestFlagLifecycle(t *testing.T) {
	t.Run("flags persist across detector restarts", func(t *testing.T) {
		d, store, graph, clusterer, oracle := newTestDetector(DetectorConfig{})
		d.FlagAddress("bad", TrustManipulationResult{Type: SybilTrustNetwork, Confidence: 0.95})

		reloaded := NewTrustManipulationDetector(store, graph, clusterer, oracle, DetectorConfig{})
		if !reloaded.IsAddressFlagged("bad") {
			t.Error("Expected flag to survive a restart")
		}
		result, found := reloaded.FlaggedResult("bad")
		if !found || result.Type != SybilTrustNetwork {
			t.Errorf("Expected persisted Sybil verdict, got %+v found=%v", result, found)
		}
	})

	t.Run("unflag erases the persisted record", func(t *testing.T) {
		d, store, graph, clusterer, oracle := newTestDetector(DetectorConfig{})
		d.FlagAddress("bad", TrustManipulationResult{Type: TrustWashing, Confidence: 0.9})

		if !d.UnflagAddress("bad") {
			t.Error("Expected unflag of a flagged address to report true")
		}
		if d.UnflagAddress("bad") {
			t.Error("Expected repeat unflag to report false")
		}

		reloaded := NewTrustManipulationDetector(store, graph, clusterer, oracle, DetectorConfig{})
		if reloaded.IsAddressFlagged("bad") {
			t.Error("Expected erased flag to stay gone after a restart")
		}
	})

	t.Run("flagged addresses list is sorted", func(t *testing.T) {
		d, _, _, _, _ := newTestDetector(DetectorConfig{})
		d.FlagAddress("zed", TrustManipulationResult{Type: TrustWashing, Confidence: 0.9})
		d.FlagAddress("abe", TrustManipulationResult{Type: TrustWashing, Confidence: 0.9})

		flagged := d.GetFlaggedAddresses()
		if len(flagged) != 2 || flagged[0] != "abe" || flagged[1] != "zed" {
			t.Errorf("Expected sorted [abe zed], got %v", flagged)
		}
	})
}
