package graph

import "fmt"

// Default traversal bounds.
const (
	DefaultMuleDeviceThreshold = 5
	DefaultRingDepth           = 3

	muleDepth               = 2
	mulePaymentMethodLimit  = 3
	ringSharedDeviceMinimum = 2
	ringSharedIPMinimum     = 2
)

// MuleResult is the outcome of mule network detection for one user.
type MuleResult struct {
	RiskScore float64  `json:"riskScore"`
	Patterns  []string `json:"patterns"`
}

// RingResult is the outcome of fraud ring detection for one user.
type RingResult struct {
	RiskScore    float64  `json:"riskScore"`
	Patterns     []string `json:"patterns"`
	RelatedUsers []string `json:"relatedUsers"`
}

// DetectMuleNetwork scores how strongly a user resembles a money mule:
// many devices, many payment methods, devices shared with other accounts.
// Unknown users score zero; lookups never fail.
func (g *Graph) DetectMuleNetwork(userID string, deviceThreshold int) MuleResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var res MuleResult
	if _, ok := g.nodes[userID]; !ok {
		return res
	}

	connected := g.bfsLocked(userID, muleDepth)

	deviceCount := 0
	paymentMethodCount := 0
	for id := range connected {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		switch n.Type {
		case EntityDevice:
			deviceCount++
		case EntityPaymentMethod:
			paymentMethodCount++
		}
	}

	if deviceCount > deviceThreshold {
		res.RiskScore += 0.3
		res.Patterns = append(res.Patterns, fmt.Sprintf("HIGH_DEVICE_COUNT_%d", deviceCount))
	}
	if paymentMethodCount > mulePaymentMethodLimit {
		res.RiskScore += 0.2
		res.Patterns = append(res.Patterns, fmt.Sprintf("MULTIPLE_PAYMENT_METHODS_%d", paymentMethodCount))
	}

	if shared := g.sharedDevicesLocked(userID); len(shared) > 0 {
		res.RiskScore += 0.25
		res.Patterns = append(res.Patterns, fmt.Sprintf("SHARED_DEVICES_%d", len(shared)))
	}

	if res.RiskScore > 1.0 {
		res.RiskScore = 1.0
	}
	return res
}

// DetectFraudRing looks for coordinated abuse: a connected set of users
// sharing devices, payment methods, or IPs. The ring membership is every
// USER node reachable within depth hops of userID.
func (g *Graph) DetectFraudRing(userID string, depth int) RingResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var res RingResult
	if _, ok := g.nodes[userID]; !ok {
		return res
	}

	connected := g.bfsLocked(userID, depth)
	var members []string
	for id := range connected {
		if n, ok := g.nodes[id]; ok && n.Type == EntityUser {
			members = append(members, id)
		}
	}
	res.RelatedUsers = members

	sharedDevices := g.sharedResourcesLocked(members, EntityDevice)
	if len(sharedDevices) >= ringSharedDeviceMinimum {
		res.RiskScore += 0.35
		res.Patterns = append(res.Patterns, fmt.Sprintf("SHARED_DEVICES_RING_%d", len(sharedDevices)))
	}

	sharedPayments := g.sharedResourcesLocked(members, EntityPaymentMethod)
	if len(sharedPayments) >= 1 {
		res.RiskScore += 0.25
		res.Patterns = append(res.Patterns, fmt.Sprintf("SHARED_PAYMENTS_%d", len(sharedPayments)))
	}

	sharedIPs := g.sharedResourcesLocked(members, EntityIPAddress)
	if len(sharedIPs) >= ringSharedIPMinimum {
		res.RiskScore += 0.20
		res.Patterns = append(res.Patterns, fmt.Sprintf("SHARED_IPS_%d", len(sharedIPs)))
	}

	if res.RiskScore > 1.0 {
		res.RiskScore = 1.0
	}
	return res
}

// RiskFactors returns degree-based heuristics for an entity, each in [0,1].
// Unknown entities return an empty map.
func (g *Graph) RiskFactors(entityID string) map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	factors := make(map[string]float64)
	node, ok := g.nodes[entityID]
	if !ok {
		return factors
	}

	outDegree := 0
	for _, e := range g.edges {
		if e.SourceID == entityID {
			outDegree++
		}
	}
	factors["connection_count"] = clamp01(float64(outDegree) / 10.0)

	switch node.Type {
	case EntityDevice:
		owners := 0
		for _, e := range g.edges {
			if e.TargetID == entityID && e.Relation == RelationOwns {
				owners++
			}
		}
		factors["shared_by_users"] = clamp01(float64(owners) / 5.0)
	case EntityIPAddress:
		linked := 0
		for _, e := range g.edges {
			if e.SourceID == entityID && e.Relation == RelationLinkedTo {
				linked++
			}
		}
		factors["account_creation_velocity"] = clamp01(float64(linked) / 20.0)
	}

	return factors
}

// bfsLocked walks the directed adjacency index up to maxDepth hops from
// start, inclusive. The visited set is what guarantees termination on cyclic
// graphs; the depth bound only limits the radius. Caller holds at least a
// read lock. Unknown start ids yield the start id alone or an empty set.
func (g *Graph) bfsLocked(start string, maxDepth int) map[string]bool {
	type item struct {
		id    string
		depth int
	}

	visited := make(map[string]bool)
	queue := []item{{id: start, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if visited[cur.id] || cur.depth > maxDepth {
			continue
		}
		visited[cur.id] = true

		for _, next := range g.adjacency[cur.id] {
			if !visited[next] && cur.depth+1 <= maxDepth {
				queue = append(queue, item{id: next, depth: cur.depth + 1})
			}
		}
	}

	return visited
}

// sharedDevicesLocked finds devices the user owns that at least one other
// account also owns. Duplicate edges from repeated transactions are deduped:
// only distinct owners count.
func (g *Graph) sharedDevicesLocked(userID string) []string {
	var shared []string
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.SourceID != userID || e.Relation != RelationOwns || seen[e.TargetID] {
			continue
		}
		seen[e.TargetID] = true

		owners := make(map[string]bool)
		for _, other := range g.edges {
			if other.TargetID == e.TargetID && other.Relation == RelationOwns {
				owners[other.SourceID] = true
			}
		}
		if len(owners) > 1 {
			shared = append(shared, e.TargetID)
		}
	}
	return shared
}

// sharedResourcesLocked finds resources of the given type owned by two or
// more distinct users from the given set. A user owning a resource through
// several duplicate edges counts once.
func (g *Graph) sharedResourcesLocked(userIDs []string, resourceType EntityType) []string {
	owners := make(map[string]map[string]bool)
	for _, userID := range userIDs {
		for _, e := range g.edges {
			if e.SourceID != userID || e.Relation != RelationOwns {
				continue
			}
			if n, ok := g.nodes[e.TargetID]; ok && n.Type == resourceType {
				if owners[e.TargetID] == nil {
					owners[e.TargetID] = make(map[string]bool)
				}
				owners[e.TargetID][userID] = true
			}
		}
	}

	var shared []string
	for id, users := range owners {
		if len(users) > 1 {
			shared = append(shared, id)
		}
	}
	return shared
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}
