package densemap

import (
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils"
)

func TestTimedMutex(t *testing.T) {
	m := newTimedMutex()

	m.Lock()
	test.That(t, m.TryLockWithTimeout(0), test.ShouldBeFalse)
	test.That(t, m.TryLockWithTimeout(10*time.Millisecond), test.ShouldBeFalse)
	m.Unlock()

	test.That(t, m.TryLockWithTimeout(0), test.ShouldBeTrue)
	m.Unlock()
	test.That(t, m.TryLockWithTimeout(time.Second), test.ShouldBeTrue)
	m.Unlock()
}

func TestTimedMutexHandoff(t *testing.T) {
	m := newTimedMutex()
	m.Lock()

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan bool, 1)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		acquired <- m.TryLockWithTimeout(5 * time.Second)
	})

	m.Unlock()
	wg.Wait()
	test.That(t, <-acquired, test.ShouldBeTrue)
	m.Unlock()
}

func TestTimedMutexUnlockPanics(t *testing.T) {
	m := newTimedMutex()
	defer func() {
		test.That(t, recover(), test.ShouldNotBeNil)
	}()
	m.Unlock()
}

func TestTimedMutexExclusion(t *testing.T) {
	m := newTimedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		})
	}
	wg.Wait()
	test.That(t, counter, test.ShouldEqual, 1000)
}
