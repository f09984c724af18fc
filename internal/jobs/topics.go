package jobs

import "fmt"

// Suffix selects the request, accepted or rejected variant of a topic.
type Suffix string

// Topic suffixes of the request/response pairs.
const (
	SuffixRequest  Suffix = ""
	SuffixAccepted Suffix = "/accepted"
	SuffixRejected Suffix = "/rejected"
)

// Topics builds the reserved Jobs topics of one thing.
//
//	topics := jobs.NewTopics("device-1")
//	topics.UpdateExecution("fw-42", jobs.SuffixAccepted)
//	// Returns: "$aws/things/device-1/jobs/fw-42/update/accepted"
type Topics struct {
	prefix string
}

// NewTopics returns the topic builder for thingName.
func NewTopics(thingName string) Topics {
	return Topics{prefix: fmt.Sprintf("$aws/things/%s/jobs", thingName)}
}

// =============================================================================
// Thing Topics
// =============================================================================

// GetPending returns the get-pending-executions topic.
//
// Example: $aws/things/device-1/jobs/get/accepted
func (t Topics) GetPending(s Suffix) string {
	return t.prefix + "/get" + string(s)
}

// StartNext returns the start-next-pending-execution topic.
//
// Example: $aws/things/device-1/jobs/start-next/rejected
func (t Topics) StartNext(s Suffix) string {
	return t.prefix + "/start-next" + string(s)
}

// Notify returns the topic on which the executions-changed event arrives.
func (t Topics) Notify() string {
	return t.prefix + "/notify"
}

// NotifyNext returns the topic on which the next-execution-changed event
// arrives.
func (t Topics) NotifyNext() string {
	return t.prefix + "/notify-next"
}

// =============================================================================
// Execution Topics
// =============================================================================

// DescribeExecution returns the describe-execution topic of jobID.
//
// Example: $aws/things/device-1/jobs/fw-42/get
func (t Topics) DescribeExecution(jobID string, s Suffix) string {
	return fmt.Sprintf("%s/%s/get%s", t.prefix, jobID, s)
}

// UpdateExecution returns the update-execution topic of jobID.
//
// Example: $aws/things/device-1/jobs/fw-42/update
func (t Topics) UpdateExecution(jobID string, s Suffix) string {
	return fmt.Sprintf("%s/%s/update%s", t.prefix, jobID, s)
}
