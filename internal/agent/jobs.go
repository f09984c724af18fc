package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/inomotech-foss/beluga/internal/jobs"
	"github.com/inomotech-foss/beluga/internal/journal"
)

// Bootstrap subscription counts of the Jobs handles.
const (
	jobsClientSubscriptions = 6
	jobSubscriptions        = 4
)

// Executor runs one started job execution and returns the status to
// report. The JobInfo is owned by the executor; its document stays valid
// after Execute returns.
type Executor interface {
	Execute(ctx context.Context, job jobs.JobInfo) (jobs.JobStatus, jobs.StatusDetails)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job jobs.JobInfo) (jobs.JobStatus, jobs.StatusDetails)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job jobs.JobInfo) (jobs.JobStatus, jobs.StatusDetails) {
	return f(ctx, job)
}

// updateResult is the answer to an update-execution request.
type updateResult struct {
	resp jobs.UpdateResponse
	err  error
}

func (a *Agent) jobsHandler() jobs.ClientHandler {
	return jobs.ClientFuncs{
		SubscribeCompleted: func(topic string, err error) {
			if err != nil {
				err = fmt.Errorf("%s: %w", topic, err)
			}
			select {
			case a.jobAcks <- err:
			default:
			}
		},
		GetPendingAccepted: a.onPendingExecutions,
		GetPendingRejected: func(rej jobs.Rejected) {
			a.logger.Warn("get pending executions rejected", "error", rej)
		},
		StartNextAccepted: a.onStartNext,
		StartNextRejected: func(rej jobs.Rejected) {
			a.logger.Warn("start next execution rejected", "error", rej)
			a.telemetry.WriteJobEvent("", "start_rejected", string(rej.Code.OrElse("")))
		},
		ExecutionsChanged: func(jobs.ExecutionsChangedEvent) {
			a.logger.Debug("job executions changed")
			signal(a.refresh)
		},
		NextExecutionChanged: a.onNextExecutionChanged,
		ResponseError: func(topic string, err error) {
			a.logger.Warn("undecodable jobs response", "topic", topic, "error", err)
		},
	}
}

// runJobs requests the pending executions once the client's
// subscriptions are in place, then serves refresh and start requests and
// runs started executions one at a time.
func (a *Agent) runJobs(ctx context.Context) error {
	if a.awaitAcks(ctx, a.jobAcks, jobsClientSubscriptions, "jobs") {
		a.requestPending()
	} else if ctx.Err() == nil {
		a.logger.Error("jobs subscriptions incomplete, pending executions not requested")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.refresh:
			a.requestPending()
		case <-a.kick:
			a.requestStartNext()
		case info := <-a.execs:
			a.execute(ctx, info)
		}
	}
}

func (a *Agent) requestPending() {
	err := a.jobs.PublishGetPendingExecutions(byte(a.cfg.Jobs.QoS), nil, jobs.WithClientToken(jobs.NewClientToken()))
	if err != nil {
		a.logger.Warn("requesting pending executions", "error", err)
	}
}

func (a *Agent) requestStartNext() {
	err := a.jobs.PublishStartNextPendingExecution(byte(a.cfg.Jobs.QoS), nil, jobs.StartNextRequest{
		ClientToken: jobs.Some(jobs.NewClientToken()),
	})
	if err != nil {
		a.logger.Warn("requesting next execution", "error", err)
	}
}

// onPendingExecutions journals the pending list and asks for the next
// execution when there is one.
func (a *Agent) onPendingExecutions(resp jobs.PendingExecutions) {
	for _, s := range resp.InProgressJobs {
		a.recordExecution(summaryInfo(s, jobs.StatusInProgress))
	}
	for _, s := range resp.QueuedJobs {
		a.recordExecution(summaryInfo(s, jobs.StatusQueued))
	}
	a.logger.Debug("pending executions",
		"in_progress", len(resp.InProgressJobs),
		"queued", len(resp.QueuedJobs),
	)
	if len(resp.InProgressJobs)+len(resp.QueuedJobs) > 0 {
		signal(a.kick)
	}
}

func (a *Agent) onNextExecutionChanged(event jobs.NextExecutionChangedEvent) {
	info, ok := event.Execution.Get()
	if !ok {
		a.logger.Debug("no next execution")
		return
	}
	a.recordExecution(info)
	signal(a.kick)
}

// onStartNext journals the started execution and queues it for the
// executor.
func (a *Agent) onStartNext(resp jobs.StartNextResponse) {
	info, ok := resp.Execution.Get()
	if !ok {
		a.logger.Debug("nothing pending to start")
		return
	}
	jobID := info.JobID.OrElse("")
	status := info.Status.OrElse(jobs.StatusInProgress)
	a.logger.Info("job execution started", "job_id", jobID, "status", status)
	a.telemetry.WriteJobEvent(jobID, "started", string(status))
	a.recordExecution(info)

	if a.executor == nil || jobID == "" {
		return
	}
	info.JobDocument = slices.Clone(info.JobDocument)
	select {
	case a.execs <- info:
	default:
		a.logger.Warn("execution queue full, dropping start", "job_id", jobID)
	}
}

// execute runs one execution and reports the executor's verdict.
func (a *Agent) execute(ctx context.Context, info jobs.JobInfo) {
	jobID := info.JobID.OrElse("")
	if a.alreadyFinished(info) {
		a.logger.Debug("skipping finished execution", "job_id", jobID)
		return
	}

	acks := make(chan error, jobSubscriptions)
	result := make(chan updateResult, 1)
	handle, err := jobs.NewJob(a.conn, a.cfg.Thing.Name, jobID, byte(a.cfg.Jobs.QoS), jobs.JobFuncs{
		SubscribeCompleted: func(_ string, err error) {
			select {
			case acks <- err:
			default:
			}
		},
		UpdateAccepted: func(resp jobs.UpdateResponse) {
			select {
			case result <- updateResult{resp: resp}:
			default:
			}
		},
		UpdateRejected: func(rej jobs.Rejected) {
			select {
			case result <- updateResult{err: rej}:
			default:
			}
		},
		ResponseError: func(topic string, err error) {
			a.logger.Warn("undecodable job response", "topic", topic, "error", err)
		},
	}, a.logger.Component("jobs"))
	if err != nil {
		a.logger.Error("creating job handle", "job_id", jobID, "error", err)
		return
	}
	defer func() {
		if err := handle.Close(); err != nil {
			a.logger.Debug("closing job handle", "job_id", jobID, "error", err)
		}
	}()
	if !a.awaitAcks(ctx, acks, jobSubscriptions, "job") {
		if ctx.Err() == nil {
			a.logger.Error("job subscriptions incomplete, execution not run", "job_id", jobID)
		}
		return
	}

	status, details := a.executor.Execute(ctx, info)
	if ctx.Err() != nil {
		return
	}
	if !status.Valid() {
		a.logger.Warn("executor returned unknown status", "job_id", jobID, "status", status)
		status = jobs.StatusFailed
	}

	req := jobs.UpdateRequest{
		Status:                   jobs.Some(status),
		IncludeJobExecutionState: jobs.Some(true),
		ClientToken:              jobs.Some(jobs.NewClientToken()),
	}
	if details != nil {
		req.StatusDetails = jobs.Some(details)
	}
	if n, ok := info.ExecutionNumber.Get(); ok {
		req.ExecutionNumber = jobs.Some(n)
	}
	if v, ok := info.VersionNumber.Get(); ok {
		req.ExpectedVersion = jobs.Some(v)
	}
	if err := handle.PublishUpdateExecution(byte(a.cfg.Jobs.QoS), nil, req); err != nil {
		a.logger.Error("reporting execution status", "job_id", jobID, "error", err)
		return
	}

	select {
	case res := <-result:
		if res.err != nil {
			a.logger.Warn("execution update rejected", "job_id", jobID, "status", status, "error", res.err)
			a.telemetry.WriteJobEvent(jobID, "update_rejected", string(status))
			break
		}
		version := info.VersionNumber.OrElse(0) + 1
		if state, ok := res.resp.ExecutionState.Get(); ok {
			version = state.VersionNumber.OrElse(version)
		}
		a.updateExecution(jobID, status, version)
		a.logger.Info("job execution updated", "job_id", jobID, "status", status)
		a.telemetry.WriteJobEvent(jobID, "updated", string(status))
	case <-time.After(responseTimeout):
		a.logger.Warn("no answer to execution update", "job_id", jobID, "timeout", responseTimeout)
	case <-ctx.Done():
		return
	}

	signal(a.kick)
}

// alreadyFinished reports whether the journal holds a terminal status for
// the same execution.
func (a *Agent) alreadyFinished(info jobs.JobInfo) bool {
	ctx, cancel := journalContext()
	defer cancel()

	e, err := a.journal.GetExecution(ctx, a.cfg.Thing.Name, info.JobID.OrElse(""))
	if err != nil {
		return false
	}
	return e.Status.IsTerminal() && e.ExecutionNumber == info.ExecutionNumber.OrElse(0)
}

func (a *Agent) recordExecution(info jobs.JobInfo) {
	e, ok := journal.ExecutionFromJob(a.cfg.Thing.Name, info)
	if !ok {
		return
	}
	ctx, cancel := journalContext()
	defer cancel()

	if err := a.journal.RecordExecution(ctx, &e); err != nil {
		a.logger.Error("journal: recording execution", "job_id", e.JobID, "error", err)
	}
}

func (a *Agent) updateExecution(jobID string, status jobs.JobStatus, version int64) {
	ctx, cancel := journalContext()
	defer cancel()

	if err := a.journal.UpdateExecutionStatus(ctx, a.cfg.Thing.Name, jobID, status, version); err != nil {
		a.logger.Error("journal: updating execution", "job_id", jobID, "error", err)
	}
}

// summaryInfo widens a list entry to a JobInfo with the given status.
func summaryInfo(s jobs.JobExecutionSummary, status jobs.JobStatus) jobs.JobInfo {
	return jobs.JobInfo{
		JobID:           s.JobID,
		Status:          jobs.Some(status),
		VersionNumber:   s.VersionNumber,
		ExecutionNumber: s.ExecutionNumber,
		QueuedAt:        s.QueuedAt,
		StartedAt:       s.StartedAt,
		LastUpdatedAt:   s.LastUpdatedAt,
	}
}
