package jobs

import (
	"context"
	"sync"
	"time"
)

type Job interface {
	Start(ctx context.Context)
}

type Manager struct {
	jobs []Job
}

func New() *Manager {
	return &Manager{}
}

func (m *Manager) Register(job Job) {
	m.jobs = append(m.jobs, job)
}

// Start runs every registered job and blocks until ctx is cancelled and all
// jobs have returned.
func (m *Manager) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, job := range m.jobs {
		wg.Add(1)

		go func(j Job) {
			defer wg.Done()
			j.Start(ctx)
		}(job)
	}

	<-ctx.Done()
	wg.Wait()
}

// Ticker adapts a periodic function into a Job.
type Ticker struct {
	Interval time.Duration
	Run      func(ctx context.Context)
}

func (t Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Run(ctx)
		case <-ctx.Done():
			return
		}
	}
}
