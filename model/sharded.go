package model

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// Shard is one contiguous slice of a batch.
type Shard struct {
	Top, Bottom *rimage.Tensor
}

// SplitBatch cuts a batch into n contiguous shards. Earlier shards take the remainder, so shard
// sizes differ by at most one.
func SplitBatch(top, bottom *rimage.Tensor, n int) ([]Shard, error) {
	if err := top.SameShape("bottom image", bottom); err != nil {
		return nil, err
	}
	batch := top.Batch()
	if n <= 0 || n > batch {
		return nil, errors.Errorf("cannot split a batch of %d into %d shards", batch, n)
	}
	shards := make([]Shard, 0, n)
	from := 0
	for i := 0; i < n; i++ {
		size := batch / n
		if i < batch%n {
			size++
		}
		shards = append(shards, Shard{Top: top.BatchRange(from, from+size), Bottom: bottom.BatchRange(from, from+size)})
		from += size
	}
	return shards, nil
}

// ShardedTotalLoss evaluates the model on every shard concurrently and returns the mean of the
// total losses.
func (m *Model) ShardedTotalLoss(ctx context.Context, shards []Shard) (float64, error) {
	if len(shards) == 0 {
		return 0, errors.New("no shards to evaluate")
	}
	funcs := make([]utils.FloatFunc, 0, len(shards))
	for i, shard := range shards {
		i, shard := i, shard
		funcs = append(funcs, func(ctx context.Context) (float64, error) {
			_, losses, err := m.Evaluate(ctx, shard.Top, shard.Bottom)
			if err != nil {
				return 0, errors.Wrapf(err, "shard %d", i)
			}
			return losses.Total, nil
		})
	}
	_, totals, err := utils.GetInParallel(ctx, funcs)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range totals {
		sum += t
	}
	return sum / float64(len(totals)), nil
}
