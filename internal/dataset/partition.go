package dataset

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
)

// DirichletPartition assigns every example to exactly one of numClients
// shards using label-skewed sampling: for each class, client proportions are
// drawn from Dirichlet(alpha, ..., alpha) and the class's examples are split
// accordingly. Smaller alpha means more skew; the split is deterministic for
// a fixed seed.
func DirichletPartition(examples []Example, numClients int, alpha float64, seed int64) ([][]int, error) {
	if numClients < 1 {
		return nil, fmt.Errorf("invalid client count %d: must be >= 1", numClients)
	}
	if alpha <= 0 {
		return nil, fmt.Errorf("invalid dirichlet concentration %v: must be > 0", alpha)
	}

	byLabel := make(map[int][]int)
	for i, ex := range examples {
		if ex.Label < 0 || ex.Label >= NumLabels {
			return nil, fmt.Errorf("example %d has label %d out of range [0, %d)", i, ex.Label, NumLabels)
		}
		byLabel[ex.Label] = append(byLabel[ex.Label], i)
	}

	clients := make([][]int, numClients)
	if numClients == 1 {
		clients[0] = make([]int, len(examples))
		for i := range examples {
			clients[0][i] = i
		}
		return clients, nil
	}

	src := rand.NewSource(uint64(seed))
	rng := rand.New(src)

	concentration := make([]float64, numClients)
	for i := range concentration {
		concentration[i] = alpha
	}
	dir := distmv.NewDirichlet(concentration, src)

	for label := 0; label < NumLabels; label++ {
		indices := byLabel[label]
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		proportions := dir.Rand(nil)

		// Convert proportions to contiguous slice boundaries; the final
		// boundary is pinned to len(indices) so rounding never drops examples.
		start := 0
		cumulative := 0.0
		for client := 0; client < numClients; client++ {
			cumulative += proportions[client]
			end := int(cumulative * float64(len(indices)))
			if client == numClients-1 {
				end = len(indices)
			}
			if end > len(indices) {
				end = len(indices)
			}
			if end < start {
				end = start
			}
			clients[client] = append(clients[client], indices[start:end]...)
			start = end
		}
	}

	return clients, nil
}

// Shard materializes the examples belonging to one client.
func Shard(examples []Example, partition [][]int, clientId int) ([]Example, error) {
	if clientId < 0 || clientId >= len(partition) {
		return nil, fmt.Errorf("client id %d out of range [0, %d)", clientId, len(partition))
	}

	shard := make([]Example, 0, len(partition[clientId]))
	for _, idx := range partition[clientId] {
		shard = append(shard, examples[idx])
	}
	return shard, nil
}

// PartitionCounts reports per-client example counts, recorded alongside
// partition tasks for observability.
func PartitionCounts(partition [][]int) []int {
	counts := make([]int, len(partition))
	for i, indices := range partition {
		counts[i] = len(indices)
	}
	return counts
}
