package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/queue"
)

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Run dispatches queued reports until ctx is canceled, then waits for the
// uploads in flight. Failed reports are requeued as the retry policy
// decides.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("dispatcher started", "slots", p.queue.Slots())
	err := p.dispatch(ctx, true, nil)
	p.Stop()
	p.logger.Info("dispatcher stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// DrainResult summarizes Drain.
type DrainResult struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Drain uploads every queued report once and returns when the queue is
// empty and no upload is in flight. Failed reports stay packaged and are
// not requeued.
func (p *Pipeline) Drain(ctx context.Context) (DrainResult, error) {
	if _, err := p.gate.Token(); err != nil {
		return DrainResult{}, err
	}

	var (
		mu  sync.Mutex
		res DrainResult
	)
	err := p.dispatch(ctx, false, func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeUploaded:
			res.Uploaded++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	})
	return res, err
}

// dispatch hands entries to one goroutine per slot. With done set it
// returns once nothing is pending or in flight.
func (p *Pipeline) dispatch(ctx context.Context, requeue bool, done func(outcome)) error {
	var g errgroup.Group
	g.SetLimit(p.queue.Slots())

	for {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return err
		}
		for {
			e, ok := p.queue.DequeueNext()
			if !ok {
				break
			}
			g.Go(func() error {
				o := p.process(ctx, e, requeue)
				if done != nil {
					done(o)
				}
				return nil
			})
		}

		if done != nil && p.queue.Len() == 0 && p.queue.InFlight() == 0 {
			return g.Wait()
		}

		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-p.queue.Ready():
		}
	}
}

// process uploads one dequeued entry and frees its slot.
func (p *Pipeline) process(ctx context.Context, e queue.Entry, requeue bool) outcome {
	log := p.logger.WithReport(e.ID)

	tok, err := p.gate.Token()
	if err != nil {
		p.queue.Release(e.ID)
		log.Debug("skipping upload without consent")
		return outcomeSkipped
	}

	r, err := p.manager.BeginUpload(ctx, e.ID, tok)
	if err != nil {
		p.queue.Release(e.ID)
		if core.IsNotFound(err) {
			log.Debug("queued report is gone")
		} else {
			log.Warn("claiming report for upload", "error", err)
		}
		return outcomeSkipped
	}

	res, err := p.uploader.Upload(ctx, r, tok)
	p.queue.Release(e.ID)
	if err == nil {
		return outcomeUploaded
	}

	back := res.Report
	if requeue && back.State == core.StatePackaged && ctx.Err() == nil &&
		p.policy.ShouldRequeue(back, back.Attempts, err) {
		p.scheduleRetry(back)
	}
	return outcomeFailed
}
