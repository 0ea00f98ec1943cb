// Package worker runs background jobs with bounded concurrency.
package worker

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go schedules job and returns at once. The job waits for a free slot.
func (p *Pool) Go(name string, job func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job", name).Interface("panic", r).Msg("background job panicked")
			}
		}()
		job()
	}()
}

// Wait blocks until every scheduled job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
