package jobs

import (
	"fmt"

	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// Job is the handle for one job execution on a thing.
type Job struct {
	*handle
	thingName string
	jobID     string
	topics    Topics
	handler   JobHandler
}

// NewJob subscribes to the describe and update response topics of jobID
// and returns a ready Job. Construction is atomic in the same way as
// NewClient.
func NewJob(session mqtt.Session, thingName, jobID string, qos byte, handler JobHandler, logger mqtt.Logger) (*Job, error) {
	if err := ValidateThingName(thingName); err != nil {
		return nil, err
	}
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	if session == nil || handler == nil {
		return nil, fmt.Errorf("%w: session and handler are required", ErrBootstrapFailed)
	}

	j := &Job{
		handle:    newHandle(session, logger),
		thingName: thingName,
		jobID:     jobID,
		topics:    NewTopics(thingName),
		handler:   handler,
	}

	onErr := handler.OnResponseError
	routes := []route{
		{j.topics.DescribeExecution(jobID, SuffixAccepted), decode(j.handle, handler.OnDescribeExecutionAccepted, onErr)},
		{j.topics.DescribeExecution(jobID, SuffixRejected), decode(j.handle, handler.OnDescribeExecutionRejected, onErr)},
		{j.topics.UpdateExecution(jobID, SuffixAccepted), decode(j.handle, handler.OnUpdateExecutionAccepted, onErr)},
		{j.topics.UpdateExecution(jobID, SuffixRejected), decode(j.handle, handler.OnUpdateExecutionRejected, onErr)},
	}

	if err := j.bootstrap(qos, routes, handler.OnSubscribeCompleted); err != nil {
		j.logger.Warn("job bootstrap failed", "thing", thingName, "job_id", jobID, "error", err)
		return nil, err
	}
	return j, nil
}

// PublishDescribeExecution requests the execution's details. The answer
// arrives on OnDescribeExecutionAccepted or OnDescribeExecutionRejected.
func (j *Job) PublishDescribeExecution(qos byte, onPublished mqtt.PubAckFunc, req DescribeRequest) error {
	jobID := req.JobID.OrElse(j.jobID)
	if err := validateJobID(jobID); err != nil {
		return err
	}
	return j.publish(j.topics.DescribeExecution(jobID, SuffixRequest), qos, req, onPublished)
}

// PublishUpdateExecution reports progress or a final status for the
// execution. Only the set fields of req are sent.
func (j *Job) PublishUpdateExecution(qos byte, onPublished mqtt.PubAckFunc, req UpdateRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	return j.publish(j.topics.UpdateExecution(req.JobID.OrElse(j.jobID), SuffixRequest), qos, req, onPublished)
}

// JobID returns the job the handle is scoped to.
func (j *Job) JobID() string {
	return j.jobID
}

// ThingName returns the thing the handle is scoped to.
func (j *Job) ThingName() string {
	return j.thingName
}

// State returns the lifecycle state.
func (j *Job) State() State {
	return j.state.get()
}

// Close withdraws the four subscriptions and releases the session.
func (j *Job) Close() error {
	return j.close()
}
