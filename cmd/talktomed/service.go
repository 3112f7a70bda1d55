package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apiPkg "github.com/h1v3-io/talktome/internal/api"
	"github.com/h1v3-io/talktome/internal/connector"
	"github.com/h1v3-io/talktome/internal/connector/webhook"
	"github.com/h1v3-io/talktome/internal/scheduler"
	"github.com/h1v3-io/talktome/internal/talk"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

// workflowService implements api.WorkflowService on the dispatcher.
type workflowService struct {
	disp  *talk.Dispatcher
	sched *scheduler.Scheduler
}

func (s *workflowService) Workflows() []apiPkg.WorkflowInfo {
	labels := s.disp.Labels()
	out := make([]apiPkg.WorkflowInfo, 0, len(labels))
	for _, label := range labels {
		e, _ := s.disp.Engine(label)
		info := apiPkg.WorkflowInfo{
			Label:    label,
			Search:   e.Query(),
			Schedule: e.Schedule(),
			Actions:  e.Tree().ActionIDs(),
		}
		if s.sched != nil {
			if next, ok := s.sched.Next(label); ok && !next.IsZero() {
				info.NextSweep = &next
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *workflowService) Sweep(ctx context.Context, label string) (talk.SweepReport, error) {
	return s.disp.Sweep(ctx, label)
}

// sweep runs one scheduled sweep. Failures are logged; the next tick retries.
func sweep(ctx context.Context, disp *talk.Dispatcher, label string, logger *slog.Logger) {
	report, err := disp.Sweep(ctx, label)
	if err != nil {
		logger.Error("sweep failed", "workflow", label, "error", err)
		return
	}
	logger.Info("sweep done", "workflow", label,
		"found", report.Found, "actionable", report.Actionable,
		"engaged", report.Engaged, "already_engaged", report.AlreadyEngaged, "failed", report.Failed)
}

// actionHandler routes actions to their workflow. Actions for a workflow
// this instance does not run are dropped with a warning; only delivery
// failures are reported back to the transport.
func actionHandler(disp *talk.Dispatcher, logger *slog.Logger) connector.ActionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, a protocol.Action) error {
		err := disp.HandleAction(ctx, a)
		if errors.Is(err, talk.ErrUnknownWorkflow) {
			logger.Warn("action for unknown workflow dropped", "workflow", a.Workflow, "action", a.ActionID)
			return nil
		}
		return err
	}
}

// apiHandler keeps a nil *webhook.Handler from becoming a non-nil
// http.Handler.
func apiHandler(h *webhook.Handler) http.Handler {
	if h == nil {
		return nil
	}
	return h
}
