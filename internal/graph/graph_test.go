package graph

import (
	"errors"
	"fmt"
	"testing"
)

func TestAddEntityUpsert(t *testing.T) {
	g := New()

	if err := g.AddEntity("user_1", EntityUser, map[string]string{"country": "US"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	// Re-adding with the same type refreshes attributes
	if err := g.AddEntity("user_1", EntityUser, map[string]string{"segment": "retail"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	node, ok := g.Entity("user_1")
	if !ok {
		t.Fatal("entity not found after upsert")
	}
	if node.Attributes["country"] != "US" || node.Attributes["segment"] != "retail" {
		t.Errorf("attributes not merged: %v", node.Attributes)
	}

	nodes, _ := g.Size()
	if nodes != 1 {
		t.Errorf("expected 1 node, got %d", nodes)
	}
}

func TestAddEntityTypeConflict(t *testing.T) {
	g := New()

	if err := g.AddEntity("x", EntityUser, nil); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	err := g.AddEntity("x", EntityDevice, nil)
	if !errors.Is(err, ErrTypeConflict) {
		t.Fatalf("expected ErrTypeConflict, got %v", err)
	}

	// First write wins
	node, _ := g.Entity("x")
	if node.Type != EntityUser {
		t.Errorf("type overwritten to %s", node.Type)
	}
}

func TestAddRelationshipAutoCreatesEndpoints(t *testing.T) {
	g := New()

	g.AddRelationship("user_1", "device_1", RelationOwns, 1.0, 3)

	src, ok := g.Entity("user_1")
	if !ok || src.Type != EntityUser {
		t.Errorf("source not auto-created as user: %v %v", src, ok)
	}
	dst, ok := g.Entity("device_1")
	if !ok || dst.Type != EntityDevice {
		t.Errorf("target not auto-created as device: %v %v", dst, ok)
	}

	nodes, edges := g.Size()
	if nodes != 2 || edges != 1 {
		t.Errorf("expected 2 nodes / 1 edge, got %d / %d", nodes, edges)
	}
}

func TestSetEntityRiskUnknownIDIgnored(t *testing.T) {
	g := New()
	g.SetEntityRisk("ghost", 0.9) // must not panic or create a node

	if nodes, _ := g.Size(); nodes != 0 {
		t.Errorf("unknown id created a node: %d nodes", nodes)
	}
}

func TestRelatedTransactionsFilter(t *testing.T) {
	g := New()
	g.AddRelationship("user_1", "device_1", RelationOwns, 1.0, 2)
	g.AddRelationship("user_1", "ip_1", RelationUses, 1.0, 1)
	g.AddRelationship("user_2", "device_1", RelationOwns, 1.0, 1)

	all := g.RelatedTransactions("user_1", nil)
	if len(all) != 2 {
		t.Errorf("expected 2 edges for user_1, got %d", len(all))
	}

	owns := g.RelatedTransactions("user_1", []RelationType{RelationOwns})
	if len(owns) != 1 || owns[0].TargetID != "device_1" {
		t.Errorf("owns filter wrong: %v", owns)
	}

	// Edge touching user via target side
	viaTarget := g.RelatedTransactions("device_1", nil)
	if len(viaTarget) != 2 {
		t.Errorf("expected 2 edges touching device_1, got %d", len(viaTarget))
	}
}

func TestDetectMuleNetworkHighDeviceCount(t *testing.T) {
	g := New()

	// One user owning 6 devices crosses the default threshold of 5
	for i := 0; i < 6; i++ {
		deviceID := fmt.Sprintf("device_%d", i)
		_ = g.AddEntity(deviceID, EntityDevice, nil)
		g.AddRelationship("mule_1", deviceID, RelationOwns, 1.0, 1)
	}

	res := g.DetectMuleNetwork("mule_1", DefaultMuleDeviceThreshold)
	if res.RiskScore < 0.3 {
		t.Errorf("device count pattern missed: score=%f patterns=%v", res.RiskScore, res.Patterns)
	}
	if len(res.Patterns) == 0 || res.Patterns[0] != "HIGH_DEVICE_COUNT_6" {
		t.Errorf("unexpected patterns: %v", res.Patterns)
	}
}

func TestDetectMuleNetworkSharedDevices(t *testing.T) {
	g := New()
	_ = g.AddEntity("device_shared", EntityDevice, nil)
	g.AddRelationship("user_a", "device_shared", RelationOwns, 1.0, 1)
	g.AddRelationship("user_b", "device_shared", RelationOwns, 1.0, 1)

	res := g.DetectMuleNetwork("user_a", DefaultMuleDeviceThreshold)
	if res.RiskScore != 0.25 {
		t.Errorf("expected shared-device score 0.25, got %f (%v)", res.RiskScore, res.Patterns)
	}
	if len(res.Patterns) != 1 || res.Patterns[0] != "SHARED_DEVICES_1" {
		t.Errorf("unexpected patterns: %v", res.Patterns)
	}
}

func TestDetectMuleNetworkDuplicateEdgesNotShared(t *testing.T) {
	g := New()
	_ = g.AddEntity("device_1", EntityDevice, nil)

	// The same user transacting repeatedly on one device accumulates
	// duplicate edges; that must not read as sharing.
	for i := 0; i < 5; i++ {
		g.AddRelationship("user_a", "device_1", RelationOwns, 1.0, 1)
	}

	res := g.DetectMuleNetwork("user_a", DefaultMuleDeviceThreshold)
	if res.RiskScore != 0 {
		t.Errorf("duplicate edges flagged as shared device: %v", res)
	}
}

func TestDetectMuleNetworkUnknownUser(t *testing.T) {
	g := New()
	res := g.DetectMuleNetwork("nobody", DefaultMuleDeviceThreshold)
	if res.RiskScore != 0 || len(res.Patterns) != 0 {
		t.Errorf("unknown user should score zero: %v", res)
	}
}

func TestDetectFraudRingSharedDevices(t *testing.T) {
	g := New()

	// Two users sharing two devices, connected so BFS finds both users
	for _, d := range []string{"device_1", "device_2"} {
		_ = g.AddEntity(d, EntityDevice, nil)
		g.AddRelationship("ring_a", d, RelationOwns, 1.0, 1)
		g.AddRelationship("ring_b", d, RelationOwns, 1.0, 1)
	}
	g.AddRelationship("ring_a", "ring_b", RelationConnectedTo, 1.0, 1)

	res := g.DetectFraudRing("ring_a", DefaultRingDepth)
	if res.RiskScore < 0.35 {
		t.Errorf("shared-device ring missed: score=%f patterns=%v", res.RiskScore, res.Patterns)
	}
	if len(res.RelatedUsers) != 2 {
		t.Errorf("expected 2 ring members, got %v", res.RelatedUsers)
	}
	if len(res.Patterns) == 0 || res.Patterns[0] != "SHARED_DEVICES_RING_2" {
		t.Errorf("unexpected patterns: %v", res.Patterns)
	}
}

func TestDetectFraudRingCleanUser(t *testing.T) {
	g := New()
	_ = g.AddEntity("loner", EntityUser, nil)
	g.AddRelationship("loner", "own_device", RelationOwns, 1.0, 1)

	res := g.DetectFraudRing("loner", DefaultRingDepth)
	if res.RiskScore != 0 {
		t.Errorf("isolated user scored %f: %v", res.RiskScore, res.Patterns)
	}
}

func TestBFSTerminatesOnCycle(t *testing.T) {
	g := New()

	// a -> b -> c -> a
	_ = g.AddEntity("a", EntityUser, nil)
	_ = g.AddEntity("b", EntityUser, nil)
	_ = g.AddEntity("c", EntityUser, nil)
	g.AddRelationship("a", "b", RelationConnectedTo, 1.0, 1)
	g.AddRelationship("b", "c", RelationConnectedTo, 1.0, 1)
	g.AddRelationship("c", "a", RelationConnectedTo, 1.0, 1)

	// Must return, and must include all three members exactly once
	res := g.DetectFraudRing("a", 10)
	if len(res.RelatedUsers) != 3 {
		t.Errorf("expected 3 members on cyclic graph, got %v", res.RelatedUsers)
	}
}

func TestBFSDepthBound(t *testing.T) {
	g := New()

	// Chain: u0 -> u1 -> u2 -> u3; depth 2 must not reach u3
	for i := 0; i < 3; i++ {
		_ = g.AddEntity(fmt.Sprintf("u%d", i), EntityUser, nil)
		_ = g.AddEntity(fmt.Sprintf("u%d", i+1), EntityUser, nil)
		g.AddRelationship(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d", i+1), RelationConnectedTo, 1.0, 1)
	}

	res := g.DetectFraudRing("u0", 2)
	for _, id := range res.RelatedUsers {
		if id == "u3" {
			t.Errorf("depth 2 traversal reached u3: %v", res.RelatedUsers)
		}
	}
	if len(res.RelatedUsers) != 3 {
		t.Errorf("expected u0..u2, got %v", res.RelatedUsers)
	}
}

func TestRiskFactors(t *testing.T) {
	g := New()
	_ = g.AddEntity("device_1", EntityDevice, nil)
	g.AddRelationship("user_1", "device_1", RelationOwns, 1.0, 1)
	g.AddRelationship("user_2", "device_1", RelationOwns, 1.0, 1)

	factors := g.RiskFactors("device_1")
	if factors["shared_by_users"] != 0.4 {
		t.Errorf("expected shared_by_users 0.4 for 2 owners, got %f", factors["shared_by_users"])
	}

	// Unknown entity returns an empty map, never nil panics
	if len(g.RiskFactors("ghost")) != 0 {
		t.Error("unknown entity returned factors")
	}
}
