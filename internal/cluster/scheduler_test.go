package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yamt/toywasm-sub002/internal/cluster"
)

// TestSchedulerRunsTasksRoundRobin records each task's steps into a shared
// log and checks the interleaving is round-robin rather than one task
// running to completion before the next starts.
func TestSchedulerRunsTasksRoundRobin(t *testing.T) {
	s := cluster.NewScheduler()
	var log []string

	s.Add(func(yield func()) {
		log = append(log, "a0")
		yield()
		log = append(log, "a1")
		yield()
		log = append(log, "a2")
	})
	s.Add(func(yield func()) {
		log = append(log, "b0")
		yield()
		log = append(log, "b1")
		yield()
		log = append(log, "b2")
	})

	s.Run()

	require.Equal(t, []string{"a0", "b0", "a1", "b1", "a2", "b2"}, log)
}

func TestSchedulerHandlesUnevenTaskLengths(t *testing.T) {
	s := cluster.NewScheduler()
	var log []string

	s.Add(func(yield func()) {
		log = append(log, "short")
	})
	s.Add(func(yield func()) {
		log = append(log, "long0")
		yield()
		log = append(log, "long1")
	})

	s.Run()

	require.ElementsMatch(t, []string{"short", "long0", "long1"}, log)
}

func TestSchedulerWithNoTasksReturnsImmediately(t *testing.T) {
	s := cluster.NewScheduler()
	s.Run()
}
