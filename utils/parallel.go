package utils

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) MemberWorkFunc
)

// GroupWorkParallel splits totalSize work items into at most ParallelFactor contiguous
// groups and runs each group on its own goroutine. Every work item in [0, totalSize) is
// handed to exactly one member function.
func GroupWorkParallel(totalSize int, groupWork GroupWorkFunc) {
	if totalSize <= 0 {
		return
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var wait sync.WaitGroup
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNumCopy := groupNum
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			groupNum := groupNumCopy

			thisGroupSize := groupSize
			if groupNum == numGroups-1 {
				thisGroupSize += extra
			}
			from := groupSize * groupNum
			to := from + thisGroupSize
			memberWork := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork == nil {
				return
			}
			memberNum := 0
			for workNum := from; workNum < to; workNum++ {
				memberWork(memberNum, workNum)
				memberNum++
			}
		})
	}
	wait.Wait()
}

// ParallelForEachPixel loops through the image and calls f for each [x, y] position.
// Rows are divided into bands, one goroutine per band. f must only write to state
// owned by its own pixel.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	GroupWorkParallel(size.Y, func(groupNum, groupSize, from, to int) MemberWorkFunc {
		return func(memberNum, y int) {
			for x := 0; x < size.X; x++ {
				f(x, y)
			}
		}
	})
}

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs all functions in parallel, return is elapsed time and an error.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	var bigError error
	var bigErrorMutex sync.Mutex
	storeError := func(err error) {
		bigErrorMutex.Lock()
		defer bigErrorMutex.Unlock()
		if bigError == nil || !errors.Is(err, context.Canceled) {
			bigError = multierr.Combine(bigError, err)
		}
	}

	helper := func(f SimpleFunc) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
				cancel()
			}
			wg.Done()
		}()
		err := f(ctx)
		if err != nil {
			storeError(err)
			cancel()
		}
	}

	for _, f := range fs {
		wg.Add(1)
		go helper(f)
	}

	wg.Wait()
	return time.Since(start), bigError
}

// FloatFunc is for GetInParallel.
type FloatFunc func(ctx context.Context) (float64, error)

// GetInParallel runs all functions in parallel, return is elapsed time, a list of floats, and an error.
// The i-th result belongs to the i-th function.
func GetInParallel(ctx context.Context, fs []FloatFunc) (time.Duration, []float64, error) {
	results := make([]float64, len(fs))
	simple := make([]SimpleFunc, 0, len(fs))
	for i, f := range fs {
		i, f := i, f
		simple = append(simple, func(ctx context.Context) error {
			value, err := f(ctx)
			if err != nil {
				return err
			}
			results[i] = value
			return nil
		})
	}
	elapsed, err := RunInParallel(ctx, simple)
	return elapsed, results, err
}
