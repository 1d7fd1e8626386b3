package graph

// DomainSpec is a scheduling unit's static shape (spec.md §3's Domain): a
// set of nodes owned by it, and if sharded, a shard count and replica
// index. The executing Domain runtime (package domain) does not hold a
// DomainSpec; a domain.Domain carries only its numeric id.
type DomainSpec struct {
	ID         int
	ShardCount int
	Shard      int
	NodeIDs    []ID
}

func NewDomainSpec(id, shardCount, shard int) *DomainSpec {
	return &DomainSpec{ID: id, ShardCount: shardCount, Shard: shard}
}

func (d *DomainSpec) AddNode(id ID) {
	d.NodeIDs = append(d.NodeIDs, id)
}

// Sharded reports whether this domain runs more than one shard replica.
func (d *DomainSpec) Sharded() bool { return d.ShardCount > 1 }
