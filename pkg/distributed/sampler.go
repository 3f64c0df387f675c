package distributed

import "math/rand"

// SequentialSampler visits 0..n-1 in order.
type SequentialSampler struct {
	n int
}

// NewSequentialSampler creates a sampler over n items.
func NewSequentialSampler(n int) *SequentialSampler {
	return &SequentialSampler{n: n}
}

func (s *SequentialSampler) Indices(int) []int {
	indices := make([]int, s.n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func (s *SequentialSampler) Len() int {
	return s.n
}

// RandomSampler visits a fresh permutation each epoch.
type RandomSampler struct {
	n    int
	seed int64
}

// NewRandomSampler creates a sampler seeding each epoch's permutation with seed+epoch.
func NewRandomSampler(n int, seed int64) *RandomSampler {
	return &RandomSampler{n: n, seed: seed}
}

func (s *RandomSampler) Indices(epoch int) []int {
	return rand.New(rand.NewSource(s.seed + int64(epoch))).Perm(s.n)
}

func (s *RandomSampler) Len() int {
	return s.n
}

// DistributedSampler hands each rank a disjoint shard of an epoch-seeded permutation. The
// permutation is padded by wrapping around so that every rank gets the same number of indices.
type DistributedSampler struct {
	n       int
	rank    int
	world   int
	seed    int64
	shuffle bool
}

// NewDistributedSampler creates the sampler for one rank of a world-sized group.
func NewDistributedSampler(n, rank, world int, seed int64, shuffle bool) *DistributedSampler {
	return &DistributedSampler{n: n, rank: rank, world: world, seed: seed, shuffle: shuffle}
}

func (s *DistributedSampler) Len() int {
	if s.n == 0 {
		return 0
	}
	return (s.n + s.world - 1) / s.world
}

func (s *DistributedSampler) Indices(epoch int) []int {
	if s.n == 0 {
		return nil
	}
	var order []int
	if s.shuffle {
		order = rand.New(rand.NewSource(s.seed + int64(epoch))).Perm(s.n)
	} else {
		order = NewSequentialSampler(s.n).Indices(epoch)
	}

	total := s.Len() * s.world
	for i := 0; len(order) < total; i++ {
		order = append(order, order[i])
	}

	shard := make([]int, 0, s.Len())
	for i := s.rank; i < total; i += s.world {
		shard = append(shard, order[i])
	}
	return shard
}
