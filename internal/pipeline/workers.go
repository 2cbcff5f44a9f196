package pipeline

import (
	"context"
	"runtime"
	"sync"
)

// parallelRows runs fn over every row index [0, height) using a pool of
// worker goroutines. Parallelism is spatial only: each row is visited by
// exactly one worker, and fn must not touch cells outside its row. The first
// error cancels the remaining work and is returned.
func parallelRows(ctx context.Context, height, workers int, fn func(y int) error) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > height {
		workers = height
	}
	if workers <= 1 {
		for y := 0; y < height; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(y); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan int)
	errOnce := make(chan error, 1)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rows {
				if ctx.Err() != nil {
					return
				}
				if err := fn(y); err != nil {
					select {
					case errOnce <- err:
					default:
					}
					cancel()
					return
				}
			}
		}()
	}

feed:
	for y := 0; y < height; y++ {
		select {
		case rows <- y:
		case <-ctx.Done():
			break feed
		}
	}
	close(rows)
	wg.Wait()

	select {
	case err := <-errOnce:
		return err
	default:
	}
	return ctx.Err()
}
