// Package dataset supplies input batches to the step controller. Sources
// produce ready batches; the prefetcher decouples loading from the model's
// sequential forward/backward computation with a bounded queue fed by a
// configurable number of workers.
package dataset

import (
	"io"
	"sync"

	"github.com/openfluke/vton/vton"
)

// Source produces batches. Next returns io.EOF when the source is exhausted.
// A Source used with a Prefetcher must be safe for concurrent Next calls.
type Source interface {
	Next() (*vton.Batch, error)
}

// Prefetcher pulls batches from a source with worker goroutines into a
// bounded queue. The consumer side stays single-threaded: the model only
// takes ready batches and never sees the loader's concurrency. Batch order is
// not preserved across workers.
type Prefetcher struct {
	ch   chan fetched
	once sync.Once
	stop chan struct{}
}

type fetched struct {
	batch *vton.Batch
	err   error
}

// NewPrefetcher starts the workers. depth bounds the queue of ready batches.
func NewPrefetcher(src Source, workers, depth int) *Prefetcher {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	p := &Prefetcher{
		ch:   make(chan fetched, depth),
		stop: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				b, err := src.Next()
				if err == io.EOF {
					return
				}
				select {
				case p.ch <- fetched{batch: b, err: err}:
				case <-p.stop:
					return
				}
				if err != nil {
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(p.ch)
	}()
	return p
}

// Next returns the next ready batch, or io.EOF once the source is exhausted
// and the queue drained.
func (p *Prefetcher) Next() (*vton.Batch, error) {
	f, ok := <-p.ch
	if !ok {
		return nil, io.EOF
	}
	return f.batch, f.err
}

// Close stops the workers. Pending batches are discarded.
func (p *Prefetcher) Close() {
	p.once.Do(func() { close(p.stop) })
}
