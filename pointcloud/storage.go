package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// storage is a buffer of points that backs a PointCloud implementation.
type storage interface {
	Size() int
	Set(p r3.Vector, d Data) error
	Unset(x, y, z float64)
	At(x, y, z float64) (Data, bool)
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// With 64-bit floating point numbers, you get about 16 decimal digits of
// precision. To guarantee at least 6 decimal places of precision past the
// decimal point, Abs(x) cannot be greater than 2^33 - 1.
const (
	maxPreciseFloat64 = float64(8589934591)
	minPreciseFloat64 = float64(-8589934591)
)

// newOutOfRangeErr returns an error for when a value can not be stored at
// full precision.
func newOutOfRangeErr(dim string, val float64) error {
	return errors.Errorf("%s component (%v) is out of range [%v,%v]", dim, val, minPreciseFloat64, maxPreciseFloat64)
}

func validatePoint(p r3.Vector) error {
	if !(math.Abs(p.X) <= maxPreciseFloat64) { // also catches NaN
		return newOutOfRangeErr("x", p.X)
	}
	if !(math.Abs(p.Y) <= maxPreciseFloat64) {
		return newOutOfRangeErr("y", p.Y)
	}
	if !(math.Abs(p.Z) <= maxPreciseFloat64) {
		return newOutOfRangeErr("z", p.Z)
	}
	return nil
}

// matrixStorage stores points in an insertion-ordered slice with a position
// index alongside for constant time lookup.
type matrixStorage struct {
	points   []PointAndData
	indexMap map[r3.Vector]uint
}

func (ms *matrixStorage) Size() int {
	return len(ms.points)
}

// Set validates that the point can be precisely stored before setting it in
// the cloud.
func (ms *matrixStorage) Set(p r3.Vector, d Data) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	if i, found := ms.indexMap[p]; found {
		ms.points[i].D = d
		return nil
	}
	ms.points = append(ms.points, PointAndData{P: p, D: d})
	ms.indexMap[p] = uint(len(ms.points) - 1)
	return nil
}

func (ms *matrixStorage) Unset(x, y, z float64) {
	key := r3.Vector{X: x, Y: y, Z: z}
	i, found := ms.indexMap[key]
	if !found {
		return
	}
	last := uint(len(ms.points) - 1)
	if i != last {
		ms.points[i] = ms.points[last]
		ms.indexMap[ms.points[i].P] = i
	}
	ms.points = ms.points[:last]
	delete(ms.indexMap, key)
}

func (ms *matrixStorage) At(x, y, z float64) (Data, bool) {
	i, found := ms.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !found {
		return nil, false
	}
	return ms.points[i].D, true
}

func (ms *matrixStorage) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	if numBatches <= 0 {
		for _, pd := range ms.points {
			if !fn(pd.P, pd.D) {
				return
			}
		}
		return
	}

	batchSize := (len(ms.points) + numBatches - 1) / numBatches
	start := myBatch * batchSize
	if start >= len(ms.points) {
		return
	}
	end := start + batchSize
	if end > len(ms.points) {
		end = len(ms.points)
	}
	for _, pd := range ms.points[start:end] {
		if !fn(pd.P, pd.D) {
			return
		}
	}
}

// mapStorage is the most basic storage, a map keyed by position. Iteration
// order is not stable.
type mapStorage struct {
	points map[r3.Vector]Data
}

func (ms *mapStorage) Size() int {
	return len(ms.points)
}

func (ms *mapStorage) Set(p r3.Vector, d Data) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	ms.points[p] = d
	return nil
}

func (ms *mapStorage) Unset(x, y, z float64) {
	delete(ms.points, r3.Vector{X: x, Y: y, Z: z})
}

func (ms *mapStorage) At(x, y, z float64) (Data, bool) {
	d, found := ms.points[r3.Vector{X: x, Y: y, Z: z}]
	return d, found
}

// Iterate for mapStorage does not support batching, all batches other than
// batch 0 are empty.
func (ms *mapStorage) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	if numBatches > 0 && myBatch != 0 {
		return
	}
	for p, d := range ms.points {
		if !fn(p, d) {
			return
		}
	}
}
