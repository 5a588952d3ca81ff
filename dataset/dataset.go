// Package dataset reads lists of top/bottom panorama pairs and loads them as batches.
package dataset

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// Pair names the two images of one capture.
type Pair struct {
	Top    string
	Bottom string
}

// ParseFilenames reads one "top bottom" pair per non empty line. Relative paths are resolved
// against dataPath.
func ParseFilenames(r io.Reader, dataPath string) ([]Pair, error) {
	var pairs []Pair
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, errors.Errorf("line %d: expected a top and a bottom path but got %d fields", line, len(fields))
		}
		pairs = append(pairs, Pair{Top: resolve(dataPath, fields[0]), Bottom: resolve(dataPath, fields[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func resolve(dataPath, name string) string {
	if filepath.IsAbs(name) || dataPath == "" {
		return name
	}
	return filepath.Join(dataPath, name)
}

// ReadFilenames opens and parses a filenames file.
func ReadFilenames(path, dataPath string) ([]Pair, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	pairs, err := ParseFilenames(f, dataPath)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return pairs, nil
}

// Batch is a stack of top and bottom panoramas with values in [0, 1].
type Batch struct {
	Pairs  []Pair
	Top    *rimage.Tensor
	Bottom *rimage.Tensor
}

// LoadBatch decodes every pair concurrently, resizes it to h by w and stacks the results in
// order.
func LoadBatch(ctx context.Context, pairs []Pair, h, w int) (*Batch, error) {
	if len(pairs) == 0 {
		return nil, errors.New("cannot load an empty batch")
	}
	tops := make([]*rimage.Tensor, len(pairs))
	bottoms := make([]*rimage.Tensor, len(pairs))
	errs, ctx := errgroup.WithContext(ctx)
	errs.SetLimit(utils.ParallelFactor)
	load := func(path string, dst **rimage.Tensor) func() error {
		return func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := rimage.ReadImageFromFile(path)
			if err != nil {
				return errors.Wrapf(err, "cannot read image %q", path)
			}
			*dst = rimage.ImageToTensor(img, h, w)
			return nil
		}
	}
	for i, pair := range pairs {
		errs.Go(load(pair.Top, &tops[i]))
		errs.Go(load(pair.Bottom, &bottoms[i]))
	}
	if err := errs.Wait(); err != nil {
		return nil, err
	}
	top, err := rimage.ConcatBatch(tops...)
	if err != nil {
		return nil, err
	}
	bottom, err := rimage.ConcatBatch(bottoms...)
	if err != nil {
		return nil, err
	}
	return &Batch{Pairs: pairs, Top: top, Bottom: bottom}, nil
}

// Loader hands out consecutive batches of a pair list.
type Loader struct {
	pairs     []Pair
	batchSize int
	h, w      int
	next      int
}

// NewLoader returns a loader producing batches of up to batchSize h by w panoramas.
func NewLoader(pairs []Pair, batchSize, h, w int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Loader{pairs: pairs, batchSize: batchSize, h: h, w: w}, nil
}

// Len returns the number of pairs.
func (l *Loader) Len() int {
	return len(l.pairs)
}

// Offset returns the index of the first pair of the next batch.
func (l *Loader) Offset() int {
	return l.next
}

// Next loads the next batch. The last batch may be short; after it io.EOF is returned.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	if l.next >= len(l.pairs) {
		return nil, io.EOF
	}
	end := l.next + l.batchSize
	if end > len(l.pairs) {
		end = len(l.pairs)
	}
	batch, err := LoadBatch(ctx, l.pairs[l.next:end], l.h, l.w)
	if err != nil {
		return nil, err
	}
	l.next = end
	return batch, nil
}
