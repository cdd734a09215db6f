// Package graph maintains the entity relationship graph used for fraud ring
// and mule network detection.
//
// Nodes are users, devices, IPs, payment methods, merchants, phones, and
// emails; edges are ownership and usage relations observed on transactions.
// The graph is append-only within a process: nodes are created on first
// reference and never deleted, edges accumulate. Detectors run bounded BFS
// over a directed adjacency index keyed by edge source.
package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// EntityType classifies a node in the graph.
type EntityType string

const (
	EntityUser          EntityType = "user"
	EntityDevice        EntityType = "device"
	EntityIPAddress     EntityType = "ip_address"
	EntityPaymentMethod EntityType = "payment_method"
	EntityMerchant      EntityType = "merchant"
	EntityPhone         EntityType = "phone"
	EntityEmail         EntityType = "email"
)

// RelationType classifies an edge between two entities.
type RelationType string

const (
	RelationOwns        RelationType = "owns"         // user owns device, payment method
	RelationUses        RelationType = "uses"         // user uses IP, merchant
	RelationSharedWith  RelationType = "shared_with"  // device shared with other users
	RelationConnectedTo RelationType = "connected_to" // transaction between entities
	RelationLinkedTo    RelationType = "linked_to"    // KYC verification link
)

// ErrTypeConflict is returned when AddEntity is called with a type that
// disagrees with an existing node. The first write wins; conflicting types
// are never merged or overwritten.
var ErrTypeConflict = errors.New("graph: entity already exists with a different type")

// Node is a single entity in the graph.
type Node struct {
	ID         string            `json:"id"`
	Type       EntityType        `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	RiskScore  float64           `json:"riskScore"`
	LastSeen   time.Time         `json:"lastSeen"`
}

// Edge is a directed relationship between two entities. Duplicate edges with
// the same (source, target, relation) are allowed and counted separately.
type Edge struct {
	SourceID         string       `json:"sourceId"`
	TargetID         string       `json:"targetId"`
	Relation         RelationType `json:"relation"`
	Weight           float64      `json:"weight"`
	CreatedAt        time.Time    `json:"createdAt"`
	TransactionCount int          `json:"transactionCount"`
}

// RelatedEdge is a row returned by RelatedTransactions.
type RelatedEdge struct {
	SourceID         string       `json:"sourceId"`
	TargetID         string       `json:"targetId"`
	Relation         RelationType `json:"relation"`
	TransactionCount int          `json:"transactionCount"`
}

// Graph is the shared in-memory entity graph. All methods are safe for
// concurrent use: detectors take read locks, mutations take the write lock,
// and a node+edge insertion is atomic under a single write lock.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     []Edge
	adjacency map[string][]string // directed, keyed by edge source
}

// New creates an empty entity graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		adjacency: make(map[string][]string),
	}
}

// AddEntity upserts a node. Re-adding an existing entity refreshes its
// attributes and last-seen time; an attempt to change its type returns
// ErrTypeConflict and leaves the node untouched.
func (g *Graph) AddEntity(id string, typ EntityType, attributes map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEntityLocked(id, typ, attributes)
}

func (g *Graph) addEntityLocked(id string, typ EntityType, attributes map[string]string) error {
	if existing, ok := g.nodes[id]; ok {
		if existing.Type != typ {
			return fmt.Errorf("%w: %s is %s, not %s", ErrTypeConflict, id, existing.Type, typ)
		}
		for k, v := range attributes {
			if existing.Attributes == nil {
				existing.Attributes = make(map[string]string)
			}
			existing.Attributes[k] = v
		}
		existing.LastSeen = time.Now().UTC()
		return nil
	}

	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	g.nodes[id] = &Node{
		ID:         id,
		Type:       typ,
		Attributes: attrs,
		LastSeen:   time.Now().UTC(),
	}
	if _, ok := g.adjacency[id]; !ok {
		g.adjacency[id] = nil
	}
	return nil
}

// AddRelationship appends a directed edge. Missing endpoints are auto-created
// with default types (source → user, target → device); callers that care
// about typing should AddEntity first. Node and edge insertion happen under
// one lock so readers never observe a half-added edge.
func (g *Graph) AddRelationship(sourceID, targetID string, relation RelationType, weight float64, txnCount int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[sourceID]; !ok {
		_ = g.addEntityLocked(sourceID, EntityUser, nil)
	}
	if _, ok := g.nodes[targetID]; !ok {
		_ = g.addEntityLocked(targetID, EntityDevice, nil)
	}

	g.edges = append(g.edges, Edge{
		SourceID:         sourceID,
		TargetID:         targetID,
		Relation:         relation,
		Weight:           weight,
		CreatedAt:        time.Now().UTC(),
		TransactionCount: txnCount,
	})
	g.adjacency[sourceID] = append(g.adjacency[sourceID], targetID)
}

// SetEntityRisk updates a node's risk score in place. Unknown ids are ignored.
func (g *Graph) SetEntityRisk(id string, score float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.RiskScore = score
		n.LastSeen = time.Now().UTC()
	}
}

// Entity returns a copy of a node, or false if it does not exist.
func (g *Graph) Entity(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	out := *n
	out.Attributes = make(map[string]string, len(n.Attributes))
	for k, v := range n.Attributes {
		out.Attributes[k] = v
	}
	return out, true
}

// Size returns the current node and edge counts.
func (g *Graph) Size() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// RelatedTransactions returns every edge touching the given user, optionally
// filtered by relation type (nil means all relations).
func (g *Graph) RelatedTransactions(userID string, relations []RelationType) []RelatedEdge {
	var filter map[RelationType]bool
	if relations != nil {
		filter = make(map[RelationType]bool, len(relations))
		for _, r := range relations {
			filter[r] = true
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var results []RelatedEdge
	for _, e := range g.edges {
		if e.SourceID != userID && e.TargetID != userID {
			continue
		}
		if filter != nil && !filter[e.Relation] {
			continue
		}
		results = append(results, RelatedEdge{
			SourceID:         e.SourceID,
			TargetID:         e.TargetID,
			Relation:         e.Relation,
			TransactionCount: e.TransactionCount,
		})
	}
	return results
}
