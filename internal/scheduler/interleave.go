package scheduler

import "github.com/Await-d/claude-relay-service-sub004/internal/account"

// interleavePartitions merges independently ordered strategy partitions of
// one priority tier into a single ordering using smooth weighted round-robin,
// each partition weighted by its size. Larger partitions contribute
// proportionally more of the front of the merged list, and no partition is
// starved.
func interleavePartitions(partitions [][]*account.Account) []*account.Account {
	total := 0
	for _, p := range partitions {
		total += len(p)
	}
	out := make([]*account.Account, 0, total)

	heads := make([]int, len(partitions))
	current := make([]int, len(partitions))
	for len(out) < total {
		best := -1
		for i, p := range partitions {
			if heads[i] >= len(p) {
				continue
			}
			current[i] += len(p)
			if best == -1 || current[i] > current[best] {
				best = i
			}
		}
		current[best] -= total
		out = append(out, partitions[best][heads[best]])
		heads[best]++
	}
	return out
}
