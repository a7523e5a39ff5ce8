package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, requires ...string) *Dependency {
	return &Dependency{
		Name:     name,
		Requires: requires,
		StartFunc: func(context.Context) error {
			r.events = append(r.events, "start:"+name)
			return nil
		},
		StopFunc: func(context.Context) error {
			r.events = append(r.events, "stop:"+name)
			return nil
		},
	}
}

func TestStartup_OrderAndReverseStop(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("http", "scheduler"))
	s.AddDependency(rec.dep("database"))
	s.AddDependency(rec.dep("scheduler", "database"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:database", "start:scheduler", "start:http"}, rec.events)
	assert.Equal(t, StartupStatusStarted, s.Status("http"))

	rec.events = nil
	require.NoError(t, s.Stop(context.Background()))
	// reverse of registration order
	assert.Equal(t, []string{"stop:scheduler", "stop:database", "stop:http"}, rec.events)
	assert.Equal(t, StartupStatusStopped, s.Status("database"))
}

func TestStartup_RetriesFailedDependency(t *testing.T) {
	calls := 0
	s := NewStartup(testLogger(), 3)
	s.retryUnit = time.Millisecond
	s.AddDependency(&Dependency{
		Name: "database",
		StartFunc: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartup_GivesUp(t *testing.T) {
	s := NewStartup(testLogger(), 2)
	s.retryUnit = time.Millisecond
	s.AddDependency(&Dependency{
		Name:      "database",
		StartFunc: func(context.Context) error { return errors.New("connection refused") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("database"))
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	rec := &recorder{}

	s := NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("http", "missing"))
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dependency 'missing'")

	s = NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("a", "b"))
	s.AddDependency(rec.dep("b", "a"))
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestStartup_StopJoinsErrors(t *testing.T) {
	s := NewStartup(testLogger(), 1)
	s.AddDependency(&Dependency{Name: "kafka", StopFunc: func(context.Context) error { return errors.New("flush failed") }})
	s.AddDependency(&Dependency{Name: "redis", StopFunc: func(context.Context) error { return errors.New("closed") }})

	require.NoError(t, s.Start(context.Background()))
	err := s.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop kafka: flush failed")
	assert.Contains(t, err.Error(), "stop redis: closed")
}
