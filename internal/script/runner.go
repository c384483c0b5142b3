package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/link"
)

var ErrStepFailed = errors.New("script step failed")

// Result 单次下发结果
type Result struct {
	Step     string        `json:"step"`
	Attempt  int           `json:"attempt"`
	Sent     string        `json:"sent"`
	Reply    string        `json:"reply,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report 脚本执行汇总
type Report struct {
	Script  string   `json:"script"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Runner 通过 link.Bus 逐步执行脚本
type Runner struct {
	bus    link.Bus
	logger *zap.Logger
	// OnResult 每步完成后回调，可为 nil
	OnResult func(Result)
}

func NewRunner(bus link.Bus, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{bus: bus, logger: logger}
}

// Run 执行脚本。ctx 取消时立即返回；StopOnError 时第一处失败即返回 ErrStepFailed。
func (r *Runner) Run(ctx context.Context, s *Script) (Report, error) {
	rep := Report{Script: s.Name}
	for _, st := range s.Steps {
		for attempt := 1; attempt <= st.Repeat; attempt++ {
			if st.Delay > 0 {
				t := time.NewTimer(st.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return rep, ctx.Err()
				case <-t.C:
				}
			}

			res := r.runStep(ctx, st, attempt)
			rep.Results = append(rep.Results, res)
			if r.OnResult != nil {
				r.OnResult(res)
			}
			if res.Error == "" {
				rep.Passed++
				continue
			}
			rep.Failed++
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			if s.StopOnError {
				return rep, fmt.Errorf("%w: %s: %s", ErrStepFailed, st.Name, res.Error)
			}
		}
	}
	return rep, nil
}

func (r *Runner) runStep(ctx context.Context, st Step, attempt int) Result {
	f := st.Frame()
	res := Result{Step: st.Name, Attempt: attempt, Sent: f.String()}
	start := time.Now()

	log := r.logger.With(zap.String("step", st.Name), zap.Int("attempt", attempt))
	if !st.ExpectReply {
		if err := r.bus.Send(ctx, f); err != nil {
			res.Error = err.Error()
			log.Warn("step send failed", zap.Error(err))
		}
		res.Duration = time.Since(start)
		return res
	}

	reply, err := r.bus.Request(ctx, f)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		log.Warn("step request failed", zap.Error(err))
		return res
	}
	res.Reply = reply.String()
	if err := st.Expect.check(reply); err != nil {
		res.Error = err.Error()
		log.Warn("step reply rejected", zap.Error(err))
		return res
	}
	log.Debug("step done", zap.String("reply", res.Reply))
	return res
}
