package app

import (
	"context"
	"errors"
	"sync"

	"github.com/lvcoi/ytinfo/internal/videoid"
)

// Exit codes used by the batch commands.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUnresolved  = 2
	ExitInterrupted = 130
)

// Result is the outcome for one input of a batch.
type Result struct {
	Input string     `json:"input"`
	ID    videoid.ID `json:"id,omitempty"`
	Info  *VideoInfo `json:"info,omitempty"`
	Err   error      `json:"-"`
	Error string     `json:"error,omitempty"`
}

// ExitCode maps a batch error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, videoid.ErrUnresolved):
		return ExitUnresolved
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// ResolveAll resolves every input. It never blocks.
func (s *Service) ResolveAll(inputs []string) ([]Result, int) {
	results := make([]Result, len(inputs))
	exitCode := ExitOK
	for i, input := range inputs {
		id, err := s.Resolve(input)
		results[i] = Result{Input: input, ID: id, Err: err}
		if err != nil {
			results[i].Error = err.Error()
			if code := ExitCode(err); code > exitCode {
				exitCode = code
			}
		}
	}
	return results, exitCode
}

// Run looks up every input with up to jobs concurrent workers. Results keep
// the input order; the exit code is the highest seen.
func (s *Service) Run(ctx context.Context, inputs []string, jobs int) ([]Result, int) {
	if jobs < 1 {
		jobs = 1
	}

	tasks := make(chan int)
	results := make([]Result, len(inputs))
	done := make([]bool, len(inputs))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case idx, ok := <-tasks:
					if !ok {
						return
					}
					info, err := s.Info(ctx, inputs[idx])
					res := Result{Input: inputs[idx], Info: info, Err: err}
					if info != nil {
						res.ID = info.ID
					}
					if err != nil {
						res.Error = err.Error()
					}
					results[idx] = res
					done[idx] = true
				}
			}
		}()
	}

submit:
	for i := range inputs {
		select {
		case <-ctx.Done():
			break submit
		case tasks <- i:
		}
	}
	close(tasks)
	wg.Wait()

	exitCode := ExitOK
	output := make([]Result, 0, len(inputs))
	for i, res := range results {
		if !done[i] {
			continue
		}
		output = append(output, res)
		if code := ExitCode(res.Err); code > exitCode {
			exitCode = code
		}
	}
	if ctx.Err() != nil && exitCode == ExitOK {
		exitCode = ExitInterrupted
	}
	return output, exitCode
}
