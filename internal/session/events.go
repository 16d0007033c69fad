package session

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/pkg/types"
)

func newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}

func (s *Session) output(category, text string) {
	if text == "" {
		return
	}
	s.sendEvent(&dap.OutputEvent{
		Event: newEvent("output"),
		Body:  dap.OutputEventBody{Category: category, Output: text},
	})
}

func (s *Session) sendTerminated() {
	if s.terminatedSent {
		return
	}
	s.terminatedSent = true
	s.setStatus(types.SessionStatusTerminated)
	s.sendEvent(&dap.TerminatedEvent{Event: newEvent("terminated")})
}

// sendFocusChanged is the focus tracker's notify callback.
func (s *Session) sendFocusChanged(f focus.Focus) {
	s.logger.Debug("focus changed", zap.Stringer("focus", f))
	s.sendEvent(&types.ChangedCudaFocusEvent{
		Event: newEvent(types.EventChangedCudaFocus),
		Body:  types.ChangedCudaFocusEventBody{Focus: f.Wire()},
	})
}

// sendInvalidated is the mutation coordinator's callback.
func (s *Session) sendInvalidated(areas []string) {
	s.sendEvent(&dap.InvalidatedEvent{
		Event: newEvent("invalidated"),
		Body: dap.InvalidatedEventBody{
			Areas: lo.Map(areas, func(a string, _ int) dap.InvalidatedAreas { return dap.InvalidatedAreas(a) }),
		},
	})
}

// sendSystemInfo reports the devices once per session. A failed query is
// retried at the next stop; before the CUDA runtime is initialized the
// backend knows no devices.
func (s *Session) sendSystemInfo(ctx context.Context) {
	if s.sysInfoSent {
		return
	}
	reply, err := s.client.Execute(ctx, "info cuda devices")
	if err != nil {
		s.logger.Debug("device query failed", zap.Error(err))
		return
	}
	info := parseDevices(reply.Console)
	if len(info.Devices) == 0 {
		return
	}
	s.sysInfoSent = true
	s.sendEvent(&types.SystemInfoEvent{
		Event: newEvent(types.EventSystemInfo),
		Body:  types.SystemInfoEventBody{SystemInfo: info},
	})
}

// handleRecords reacts to the backend's asynchronous records in order.
func (s *Session) handleRecords(ctx context.Context, recs []*mi.Record) {
	for _, rec := range recs {
		switch rec.Kind {
		case mi.KindExec:
			switch rec.Class {
			case "stopped":
				s.onStopped(ctx, rec.Results)
			case "running":
				s.onRunning(ctx, rec.Results)
			}
		case mi.KindNotify:
			s.onNotify(rec)
		case mi.KindTarget:
			s.output("stdout", rec.Text)
		case mi.KindConsole:
			s.output("console", rec.Text)
		default:
			s.logger.Debug("ignoring backend record", zap.Stringer("record", rec))
		}
	}
}

func (s *Session) onRunning(ctx context.Context, results mi.Tuple) {
	s.running = true
	s.tracker.MarkRunning()
	s.setStatus(types.SessionStatusRunning)
	if s.resumeRequested {
		s.resumeRequested = false
		return
	}
	// Resumed by something other than a request, such as a console command.
	s.res.Invalidate(ctx)
	threadID, _ := results.Int("thread-id")
	s.sendEvent(&dap.ContinuedEvent{
		Event: newEvent("continued"),
		Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
	})
}

func (s *Session) onStopped(ctx context.Context, results mi.Tuple) {
	s.running = false
	s.resumeRequested = false

	if reason := results.String("reason"); strings.HasPrefix(reason, "exited") {
		code := 0
		if text := results.String("exit-code"); text != "" {
			// The backend prints exit codes in octal.
			if n, err := strconv.ParseInt(text, 8, 32); err == nil {
				code = int(n)
			}
		}
		s.logger.Info("program exited", zap.String("reason", reason), zap.Int("code", code))
		s.sendEvent(&dap.ExitedEvent{Event: newEvent("exited"), Body: dap.ExitedEventBody{ExitCode: code}})
		s.sendTerminated()
		return
	}

	threadID, _ := results.Int("thread-id")
	s.res.Invalidate(ctx)
	f, err := s.res.ObserveStop(ctx, threadID)
	known := err == nil
	if !known {
		s.logger.Warn("could not determine focus of stop", zap.Error(err))
		if threadID > 0 {
			f = focus.Host(threadID)
		} else if id, ok := s.res.Threads().FirstHost(); ok {
			f = focus.Host(id)
		}
	}
	if err := s.res.RefreshThreads(ctx); err != nil {
		s.logger.Debug("thread refresh failed", zap.Error(err))
	}
	s.sendSystemInfo(ctx)

	reason, description := s.target.ReportStop(results, s.pausePending)
	s.pausePending = false
	s.setStatus(types.SessionStatusStopped)

	body := dap.StoppedEventBody{
		Reason:            reason,
		Description:       description,
		ThreadId:          s.res.Threads().IDFor(f),
		AllThreadsStopped: true,
	}
	if n, ok := results.Int("bkptno"); ok {
		body.HitBreakpointIds = []int{n}
	}
	s.logger.Debug("stopped", zap.String("reason", reason), zap.Stringer("focus", f))
	s.sendEvent(&dap.StoppedEvent{Event: newEvent("stopped"), Body: body})
	if known {
		s.tracker.ObserveStop(f)
	} else {
		s.tracker.ObserveUnknownStop(f)
	}
}

func (s *Session) onNotify(rec *mi.Record) {
	switch rec.Class {
	case "thread-created":
		id, ok := rec.Results.Int("id")
		if !ok {
			return
		}
		if s.res.Threads().AddHost(id, "") {
			s.sendEvent(&dap.ThreadEvent{
				Event: newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "started", ThreadId: id},
			})
		}
	case "thread-exited":
		id, ok := rec.Results.Int("id")
		if !ok {
			return
		}
		if s.res.Threads().RemoveHost(id) {
			s.sendEvent(&dap.ThreadEvent{
				Event: newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: id},
			})
		}
		if f := s.tracker.Get(); f.Kind == focus.KindHost && f.ThreadID == id {
			s.tracker.MarkUnknown()
		}
	default:
		s.logger.Debug("backend notification", zap.Stringer("record", rec))
	}
}

// handleBackendExit reports the end of the backend. Records still queued
// are handled first so program output is not lost.
func (s *Session) handleBackendExit(ctx context.Context, ev backend.ExitEvent) {
	s.handleRecords(ctx, s.client.Drain())
	s.backendGone = true
	s.running = false

	switch ev.Kind {
	case backend.ExitNormal:
		s.logger.Debug("backend exited")
	case backend.ExitModuleNotFound, backend.ExitSignaled, backend.ExitFailure:
		s.logger.Warn("backend exited abnormally", zap.Int("code", ev.Code), zap.String("signal", ev.Signal), zap.Error(ev.Err))
		s.output("stderr", ev.Message()+"\n")
	}
	if err := s.target.Close(); err != nil {
		s.logger.Warn("closing target", zap.Error(err))
	}
	s.sendTerminated()
}
