package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks fails the test if the goroutine count has not returned to
// its value at call time once the test's cleanups run. Call it before the
// test starts background work such as a scheduler or a fetch pool.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	AssertNoLeaksWithin(t, 5*time.Second)
}

// AssertNoLeaksWithin is AssertNoLeaks with a custom settle timeout
func AssertNoLeaksWithin(t testing.TB, timeout time.Duration) {
	t.Helper()
	baseline := runtime.NumGoroutine()

	t.Cleanup(func() {
		if settle(baseline, timeout) {
			return
		}
		current := runtime.NumGoroutine()
		t.Errorf("goroutine leak: %d running, baseline %d", current, baseline)

		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Logf("active goroutines:\n%s", buf[:n])
	})
}

// settle polls until at most target goroutines are running or timeout passes
func settle(target int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
