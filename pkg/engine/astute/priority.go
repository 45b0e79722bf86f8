package astute

// PriorityStep is the distance between two consecutive priority buckets.
const PriorityStep = 100

// NodeRole is one role a machine plays, as consumed by legacy deployment.
type NodeRole struct {
	UID      string `json:"uid" yaml:"uid"`
	Role     string `json:"role" yaml:"role"`
	Priority int    `json:"priority" yaml:"priority"`
}

// PriorityStrategy hands out increasing priority buckets.
type PriorityStrategy struct {
	current int
}

func (p *PriorityStrategy) next() int {
	p.current += PriorityStep
	return p.current
}

// InParallel puts every node in one new bucket.
func (p *PriorityStrategy) InParallel(nodes []*NodeRole) {
	if len(nodes) == 0 {
		return
	}
	priority := p.next()
	for _, n := range nodes {
		n.Priority = priority
	}
}

// InParallelBy puts nodes in new buckets of at most amount nodes each.
// A non-positive amount means unlimited.
func (p *PriorityStrategy) InParallelBy(nodes []*NodeRole, amount int) {
	if amount <= 0 {
		p.InParallel(nodes)
		return
	}
	for start := 0; start < len(nodes); start += amount {
		end := start + amount
		if end > len(nodes) {
			end = len(nodes)
		}
		p.InParallel(nodes[start:end])
	}
}

// OneByOne gives each node its own new bucket, in input order.
func (p *PriorityStrategy) OneByOne(nodes []*NodeRole) {
	for _, n := range nodes {
		n.Priority = p.next()
	}
}
