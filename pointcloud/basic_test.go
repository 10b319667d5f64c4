package pointcloud

import (
	"image/color"
	"math"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBasicPointCloud(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)

	p0 := NewVector(0, 0, 0)
	test.That(t, pc.Set(p0, nil), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	_, got := pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeTrue)

	p1 := NewVector(1, 2, 3)
	test.That(t, pc.Set(p1, NewValueData(5)), test.ShouldBeNil)
	d, got := pc.At(1, 2, 3)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 5)

	// setting an existing position replaces its data, not adds
	test.That(t, pc.Set(p1, NewValueData(6)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	d, _ = pc.At(1, 2, 3)
	test.That(t, d.Value(), test.ShouldEqual, 6)

	pc.Unset(0, 0, 0)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	_, got = pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeFalse)
}

func TestUnorderedPointCloud(t *testing.T) {
	pc := NewUnordered()
	test.That(t, pc.Set(NewVector(1, 1, 1), NewValueData(9)), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(2, 2, 2), nil), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	d, got := pc.At(1, 1, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 9)

	pc.Unset(2, 2, 2)
	test.That(t, pc.Size(), test.ShouldEqual, 1)

	// map storage serves all points in batch 0 and none elsewhere
	count := 0
	pc.Iterate(2, 0, func(p r3.Vector, d Data) bool {
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 1)
	pc.Iterate(2, 1, func(p r3.Vector, d Data) bool {
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 1)

	err := pc.Set(NewVector(math.Inf(1), 0, 0), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPointValidation(t *testing.T) {
	pc := New()

	err := pc.Set(NewVector(math.NaN(), 0, 0), nil)
	test.That(t, err, test.ShouldNotBeNil)

	err = pc.Set(NewVector(0, maxPreciseFloat64+1, 0), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "y component")

	err = pc.Set(NewVector(0, 0, minPreciseFloat64-1), nil)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, pc.Set(NewVector(0, 0, maxPreciseFloat64), nil), test.ShouldBeNil)
}

func TestMetaData(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(-1, 5, 0), nil), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(3, -2, 7), NewColoredData(color.NRGBA{R: 255, A: 255})), test.ShouldBeNil)

	meta := pc.MetaData()
	test.That(t, meta.MinX, test.ShouldEqual, -1.0)
	test.That(t, meta.MaxX, test.ShouldEqual, 3.0)
	test.That(t, meta.MinY, test.ShouldEqual, -2.0)
	test.That(t, meta.MaxY, test.ShouldEqual, 5.0)
	test.That(t, meta.MinZ, test.ShouldEqual, 0.0)
	test.That(t, meta.MaxZ, test.ShouldEqual, 7.0)
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasValue, test.ShouldBeFalse)
	test.That(t, meta.HasNormal, test.ShouldBeFalse)
}

func TestIterateBatching(t *testing.T) {
	pc := New()
	for i := 0; i < 100; i++ {
		test.That(t, pc.Set(NewVector(float64(i), 0, 0), nil), test.ShouldBeNil)
	}

	var mu sync.Mutex
	seen := map[float64]bool{}
	var wg sync.WaitGroup
	numBatches := 4
	for b := 0; b < numBatches; b++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			pc.Iterate(numBatches, batch, func(p r3.Vector, d Data) bool {
				mu.Lock()
				seen[p.X] = true
				mu.Unlock()
				return true
			})
		}(b)
	}
	wg.Wait()
	test.That(t, len(seen), test.ShouldEqual, 100)
}

func TestIterateEarlyStop(t *testing.T) {
	pc := New()
	for i := 0; i < 10; i++ {
		test.That(t, pc.Set(NewVector(float64(i), 0, 0), nil), test.ShouldBeNil)
	}
	count := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		count++
		return count < 3
	})
	test.That(t, count, test.ShouldEqual, 3)
}
