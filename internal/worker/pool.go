package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (p *Pool) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	p.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", p.concurrency),
	)
}

// workerLoop waits for a wakeup and then drains the queue one job at a time
func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.workerID, workerNum)
	p.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-p.stopChan:
			p.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			p.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case <-p.notify:
		}

		for !p.stopping() && ctx.Err() == nil {
			id, remaining, ok := p.queue.pop()
			if !ok {
				break
			}
			p.metrics.SetQueueDepth(remaining)
			if remaining > 0 {
				// hand the rest of the queue to an idle worker
				p.signal()
			}

			p.processJob(ctx, workerName, id)
		}
	}
}
