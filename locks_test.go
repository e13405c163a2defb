package qurl_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qurlsh/qurl"
)

func TestLockTable_AcquireRelease(t *testing.T) {
	table := qurl.NewLockTable()

	release := table.Acquire("abcd1234")
	assert.Equal(t, 1, table.Len())

	release()
	assert.Equal(t, 0, table.Len())
}

func TestLockTable_IndependentIDs(t *testing.T) {
	table := qurl.NewLockTable()

	releaseA := table.Acquire("aaaa1111")
	// A held lock on one id must not block another id.
	releaseB := table.Acquire("bbbb2222")
	assert.Equal(t, 2, table.Len())

	releaseB()
	releaseA()
	assert.Equal(t, 0, table.Len())
}

func TestLockTable_MutualExclusion(t *testing.T) {
	table := qurl.NewLockTable()

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := table.Acquire("abcd1234")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	assert.Equal(t, 0, table.Len())
}

func TestLockTable_DropsEntryAfterLastHolder(t *testing.T) {
	table := qurl.NewLockTable()

	first := table.Acquire("abcd1234")

	done := make(chan func())
	go func() {
		done <- table.Acquire("abcd1234")
	}()

	// The waiter has registered interest; the id stays tracked until both
	// holders release.
	first()
	second := <-done
	second()

	assert.Equal(t, 0, table.Len())
}
