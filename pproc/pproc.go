// Package pproc processes line delimited input in parallel.
package pproc

import (
	"bufio"
	"context"
	"io"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxBufferSize = 1 << 24 // 16MB, soft limit
	defaultMaxTokenSize  = 1 << 28 // 256MB, hard limit, a single dump page can be large
)

// ProcessFunc handles a single record. The slice is owned by the callee.
type ProcessFunc func(ctx context.Context, record []byte) error

// ErrorFunc decides what happens with a failed record. Returning nil skips
// the record, returning an error stops processing.
type ErrorFunc func(record []byte, err error) error

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.numWorkers = n
		}
	}
}

// WithMaxTokenSize sets the maximum size of a single record.
func WithMaxTokenSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.maxTokenSize = size
		}
	}
}

// WithErrorFunc sets a handler for records that fail.
func WithErrorFunc(f ErrorFunc) Option {
	return func(p *Processor) {
		p.errorFunc = f
	}
}

// Stats about a finished run.
type Stats struct {
	Records int64
	Skipped int64
}

// Processor runs a ProcessFunc over records of a reader, with a fixed
// number of workers. Records are lines; empty lines are ignored.
type Processor struct {
	processFunc   ProcessFunc
	errorFunc     ErrorFunc
	numWorkers    int
	maxBufferSize int
	maxTokenSize  int
}

// New creates a new Processor.
func New(processFunc ProcessFunc, opts ...Option) *Processor {
	p := &Processor{
		processFunc:   processFunc,
		numWorkers:    runtime.NumCPU(),
		maxBufferSize: defaultMaxBufferSize,
		maxTokenSize:  defaultMaxTokenSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxBufferSize > p.maxTokenSize {
		p.maxBufferSize = p.maxTokenSize
	}
	return p
}

// Process reads records from r and hands them to the workers. The first
// error not absorbed by the error handler cancels the run.
func (p *Processor) Process(ctx context.Context, r io.Reader) (Stats, error) {
	var (
		records, skipped atomic.Int64
		scanner          = bufio.NewScanner(bufio.NewReader(r))
		workC            = make(chan []byte, p.numWorkers*2)
	)
	scanner.Buffer(make([]byte, 0, p.maxBufferSize), p.maxTokenSize)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(workC)
		for scanner.Scan() {
			token := scanner.Bytes()
			if len(token) == 0 {
				continue
			}
			data := make([]byte, len(token))
			copy(data, token)
			select {
			case workC <- data:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return scanner.Err()
	})
	for i := 0; i < p.numWorkers; i++ {
		g.Go(func() error {
			for data := range workC {
				if err := ctx.Err(); err != nil {
					return err
				}
				records.Add(1)
				err := p.processFunc(ctx, data)
				if err == nil {
					continue
				}
				if p.errorFunc == nil {
					return err
				}
				if err := p.errorFunc(data, err); err != nil {
					return err
				}
				skipped.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return Stats{Records: records.Load(), Skipped: skipped.Load()}, err
}
