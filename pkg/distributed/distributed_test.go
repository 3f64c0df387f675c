package distributed

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestSequentialSampler(t *testing.T) {
	s := NewSequentialSampler(4)
	assert.Equal(t, []int{0, 1, 2, 3}, s.Indices(7))
	assert.Equal(t, 4, s.Len())
}

func TestRandomSampler_PermutationPerEpoch(t *testing.T) {
	s := NewRandomSampler(50, 42)
	first := s.Indices(0)
	again := s.Indices(0)
	second := s.Indices(1)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, second)

	sorted := append([]int(nil), first...)
	sort.Ints(sorted)
	assert.Equal(t, NewSequentialSampler(50).Indices(0), sorted)
}

func TestDistributedSampler_ShardsAreDisjointAndCover(t *testing.T) {
	const n, world = 10, 3
	seen := map[int]int{}
	for rank := 0; rank < world; rank++ {
		s := NewDistributedSampler(n, rank, world, 42, true)
		shard := s.Indices(2)
		assert.Len(t, shard, 4)
		assert.Equal(t, 4, s.Len())
		for _, idx := range shard {
			seen[idx]++
		}
	}
	assert.Len(t, seen, n)
	total := 0
	for _, c := range seen {
		total += c
	}
	// 12 slots for 10 items: two items are repeated as padding
	assert.Equal(t, 12, total)
}

func TestDistributedSampler_Unshuffled(t *testing.T) {
	assert.Equal(t, []int{0, 2, 4}, NewDistributedSampler(5, 0, 2, 0, false).Indices(0))
	assert.Equal(t, []int{1, 3, 0}, NewDistributedSampler(5, 1, 2, 0, false).Indices(0))
	assert.Nil(t, NewDistributedSampler(0, 0, 2, 0, false).Indices(0))
}

func TestGroup_AllReduceMean(t *testing.T) {
	g := NewGroup(3)
	results := make([][][]float64, 3)

	err := g.Run(context.Background(), func(ctx context.Context, rank int) error {
		for round := 0; round < 5; round++ {
			grads := [][]float64{{float64(rank), float64(round)}, {float64(rank * 3)}}
			if err := g.AllReduceMean(grads); err != nil {
				return err
			}
			results[rank] = grads
		}
		return nil
	})
	require.NoError(t, err)

	for rank := 0; rank < 3; rank++ {
		assert.Equal(t, [][]float64{{1, 4}, {3}}, results[rank])
	}
}

func TestGroup_SingleRankIsNoOp(t *testing.T) {
	g := NewGroup(1)
	grads := [][]float64{{1, 2}}
	require.NoError(t, g.AllReduceMean(grads))
	assert.Equal(t, [][]float64{{1, 2}}, grads)
	assert.Equal(t, 1, g.Size())
}

func TestGroup_ErrorReleasesWaitingRanks(t *testing.T) {
	g := NewGroup(2)
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background(), func(ctx context.Context, rank int) error {
			if rank == 1 {
				time.Sleep(10 * time.Millisecond)
				return boom
			}
			return g.AllReduceMean([][]float64{{1}})
		})
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting rank was never released")
	}
}
