package ospf

import (
	"net/netip"
	"sort"

	"github.com/netlab-emu/agent/internal/types"
	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

// VertexKind distinguishes Router-LSA vertices from the transit-network
// pseudo-nodes contributed by Network-LSAs (spec.md §4.3).
type VertexKind int

const (
	RouterVertex VertexKind = iota
	NetworkVertex
)

// VertexID identifies one SPF graph vertex: a router (by Router ID) or
// a transit network pseudo-node (by the Network-LSA's Link State ID,
// which RFC 2328 also uses as the type-2 Router-LSA link ID pointing at
// it).
type VertexID struct {
	Kind VertexKind
	ID   uint32
}

type edge struct {
	to     VertexID
	metric uint32
	// linkData resolves the first-hop next-hop when this edge
	// leaves the root directly.
	linkData uint32
}

type stubLeaf struct {
	from   VertexID
	prefix netip.Prefix
	metric uint32
}

// graph is the SPF input built from the area's current LSDB contents.
type graph struct {
	edges map[VertexID][]edge
	stubs []stubLeaf
	// networkMask records each NetworkVertex's advertised mask so its own
	// prefix can be added as a routing entry.
	networkMask map[VertexID]uint32
}

// buildGraph walks every non-MaxAge Router-LSA and Network-LSA in db and
// produces the SPF graph (spec.md §4.3: "Router-LSAs as vertices and the
// transit-network pseudo-nodes represented by Network-LSAs").
func buildGraph(db *LSDB) *graph {
	g := &graph{edges: make(map[VertexID][]edge), networkMask: make(map[VertexID]uint32)}
	for _, e := range db.Snapshot() {
		if e.Header.Age >= wire.MaxAge {
			continue
		}
		switch e.Header.Type {
		case wire.RouterLSA:
			body, err := wire.DecodeRouterLSABody(e.Body)
			if err != nil {
				continue
			}
			from := VertexID{RouterVertex, e.Header.AdvertisingRouter}
			for _, link := range body.Links {
				switch link.LinkType {
				case 1: // point-to-point
					to := VertexID{RouterVertex, link.ID}
					g.edges[from] = append(g.edges[from], edge{to: to, metric: uint32(link.Metric), linkData: link.Data})
				case 2: // transit network
					to := VertexID{NetworkVertex, link.ID}
					g.edges[from] = append(g.edges[from], edge{to: to, metric: uint32(link.Metric), linkData: link.Data})
				case 3: // stub network
					prefix := prefixFromMask(link.ID, link.Data)
					g.stubs = append(g.stubs, stubLeaf{from: from, prefix: prefix, metric: uint32(link.Metric)})
				}
			}
		case wire.NetworkLSA:
			body, err := wire.DecodeNetworkLSABody(e.Body)
			if err != nil {
				continue
			}
			net := VertexID{NetworkVertex, e.Header.LinkStateID}
			g.networkMask[net] = body.NetworkMask
			for _, r := range body.AttachedRouters {
				to := VertexID{RouterVertex, r}
				// Network -> router cost is always 0 (RFC 2328 §16.1).
				g.edges[net] = append(g.edges[net], edge{to: to, metric: 0})
			}
		}
	}
	return g
}

func prefixFromMask(addr, mask uint32) netip.Prefix {
	bits := maskBits(mask)
	ip := netip.AddrFrom4([4]byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)})
	return netip.PrefixFrom(ip, bits).Masked()
}

func maskBits(mask uint32) int {
	n := 0
	for i := 31; i >= 0; i-- {
		if mask&(1<<uint(i)) == 0 {
			break
		}
		n++
	}
	return n
}

type spfResult struct {
	dist map[VertexID]uint32
	// firstHop records, for each vertex reached, the link.Data advertised
	// on the edge out of the root that leads toward it (resolved once the
	// shortest-path tree's first hop is known).
	firstHopLinkData map[VertexID]uint32
	firstHopNeighbor map[VertexID]uint32 // root's direct RouterVertex neighbor leading here
}

// dijkstra runs plain Dijkstra from root, breaking ties on smaller
// Router ID per spec.md §4.3. Only RouterVertex IDs carry a meaningful
// Router ID for tie-breaking; NetworkVertex ties break on Link State ID
// for determinism.
func dijkstra(g *graph, root VertexID) *spfResult {
	dist := map[VertexID]uint32{root: 0}
	firstHopLinkData := map[VertexID]uint32{}
	firstHopNeighbor := map[VertexID]uint32{}
	visited := map[VertexID]bool{}

	for {
		// pick smallest-distance unvisited vertex, tie-break by ID.
		var u VertexID
		found := false
		best := uint32(1<<32 - 1)
		var keys []VertexID
		for v := range dist {
			keys = append(keys, v)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
		for _, v := range keys {
			if visited[v] {
				continue
			}
			if dist[v] < best {
				best = dist[v]
				u = v
				found = true
			}
		}
		if !found {
			break
		}
		visited[u] = true

		for _, e := range g.edges[u] {
			nd := dist[u] + e.metric
			if old, ok := dist[e.to]; !ok || nd < old {
				dist[e.to] = nd
				if u == root {
					firstHopLinkData[e.to] = e.linkData
					if e.to.Kind == RouterVertex {
						firstHopNeighbor[e.to] = e.to.ID
					}
				} else {
					firstHopLinkData[e.to] = firstHopLinkData[u]
					firstHopNeighbor[e.to] = firstHopNeighbor[u]
				}
			}
		}
	}
	return &spfResult{dist: dist, firstHopLinkData: firstHopLinkData, firstHopNeighbor: firstHopNeighbor}
}

// Compute runs SPF rooted at localRouterID over db's current contents
// and returns one types.RouteEntry per reachable prefix (spec.md §4.3).
// interfaceLookup resolves a first-hop neighbor's link data (typically
// its IP address on our segment) to a local interface arena index and
// next-hop address; it stays pluggable because that mapping depends on
// locally configured interfaces, not the LSDB.
func Compute(db *LSDB, localRouterID uint32, interfaceLookup func(linkData uint32) (ifaceIndex int, nextHop netip.Addr, ok bool)) []types.RouteEntry {
	g := buildGraph(db)
	root := VertexID{RouterVertex, localRouterID}
	res := dijkstra(g, root)

	var entries []types.RouteEntry
	seen := map[netip.Prefix]bool{}

	addEntry := func(prefix netip.Prefix, metric uint32, linkData uint32) {
		if seen[prefix] {
			return
		}
		ifaceIdx, nextHop, ok := interfaceLookup(linkData)
		if !ok {
			return
		}
		seen[prefix] = true
		entries = append(entries, types.RouteEntry{
			Prefix:    prefix,
			Type:      types.IntraArea,
			NextHop:   nextHop,
			Interface: ifaceIdx,
			Metric:    metric,
			Distance:  types.DistanceOSPFIntra,
		})
	}

	// Transit-network vertices are themselves prefixes.
	for v, dist := range res.dist {
		if v.Kind != NetworkVertex || v == root {
			continue
		}
		mask, ok := g.networkMask[v]
		if !ok {
			continue
		}
		prefix := prefixFromMask(v.ID, mask)
		addEntry(prefix, dist, res.firstHopLinkData[v])
	}

	// Stub leaves hang off whichever router vertex originated them.
	for _, s := range g.stubs {
		d, ok := res.dist[s.from]
		if !ok {
			continue
		}
		var linkData uint32
		if s.from == root {
			linkData = 0 // directly-connected stub; caller resolves via its own interface table
		} else {
			linkData = res.firstHopLinkData[s.from]
		}
		addEntry(s.prefix, d+s.metric, linkData)
	}

	return entries
}
