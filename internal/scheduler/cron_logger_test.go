package scheduler

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type blockingJob struct {
	started chan struct{}
	release chan struct{}
	runs    int
}

func (j *blockingJob) Run(ctx context.Context) error {
	j.runs++
	close(j.started)
	<-j.release
	return nil
}

func (j *blockingJob) Name() string { return "update_market_data" }

func TestCronJob_LogsSkippedRun(t *testing.T) {
	var out lockedBuffer
	s := New(zerolog.New(&out).Level(zerolog.WarnLevel))
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	wrapped := s.cronJob(job)

	done := make(chan struct{})
	go func() {
		wrapped.Run()
		close(done)
	}()
	<-job.started

	// Second tick while the first run is still in progress.
	wrapped.Run()
	close(job.release)
	<-done

	assert.Equal(t, 1, job.runs)
	logged := out.String()
	assert.Contains(t, logged, "Skipped run, previous run still in progress")
	assert.Contains(t, logged, `"job":"update_market_data"`)
	assert.Contains(t, logged, `"level":"warn"`)
}

func TestCronLogger_Error(t *testing.T) {
	var out bytes.Buffer
	l := cronLogger{log: zerolog.New(&out)}

	l.Error(assert.AnError, "panic", "entry", 3)

	assert.Contains(t, out.String(), `"level":"error"`)
	assert.Contains(t, out.String(), `"entry":3`)
	assert.Contains(t, out.String(), "cron: panic")
}
