package jobs

// ClientHandler receives the responses and events of a Client.
//
// Methods run on MQTT engine goroutines. Buffers reachable from the
// arguments are Borrowed and valid only for the duration of the call.
type ClientHandler interface {
	// OnSubscribeCompleted reports the broker's answer for one of the six
	// bootstrap subscriptions.
	OnSubscribeCompleted(topic string, err error)

	OnGetPendingExecutionsAccepted(resp PendingExecutions)
	OnGetPendingExecutionsRejected(rej Rejected)

	OnStartNextPendingExecutionAccepted(resp StartNextResponse)
	OnStartNextPendingExecutionRejected(rej Rejected)

	OnExecutionsChanged(event ExecutionsChangedEvent)
	OnNextExecutionChanged(event NextExecutionChangedEvent)

	// OnResponseError reports a payload that could not be decoded. The
	// error wraps ErrDecodeResponse.
	OnResponseError(topic string, err error)
}

// JobHandler receives the responses of a Job.
type JobHandler interface {
	OnSubscribeCompleted(topic string, err error)

	OnDescribeExecutionAccepted(resp DescribeResponse)
	OnDescribeExecutionRejected(rej Rejected)

	OnUpdateExecutionAccepted(resp UpdateResponse)
	OnUpdateExecutionRejected(rej Rejected)

	OnResponseError(topic string, err error)
}

// ClientFuncs adapts optional functions to ClientHandler. Nil fields are
// ignored.
type ClientFuncs struct {
	SubscribeCompleted   func(topic string, err error)
	GetPendingAccepted   func(PendingExecutions)
	GetPendingRejected   func(Rejected)
	StartNextAccepted    func(StartNextResponse)
	StartNextRejected    func(Rejected)
	ExecutionsChanged    func(ExecutionsChangedEvent)
	NextExecutionChanged func(NextExecutionChangedEvent)
	ResponseError        func(topic string, err error)
}

var _ ClientHandler = ClientFuncs{}

func (f ClientFuncs) OnSubscribeCompleted(topic string, err error) {
	if f.SubscribeCompleted != nil {
		f.SubscribeCompleted(topic, err)
	}
}

func (f ClientFuncs) OnGetPendingExecutionsAccepted(resp PendingExecutions) {
	if f.GetPendingAccepted != nil {
		f.GetPendingAccepted(resp)
	}
}

func (f ClientFuncs) OnGetPendingExecutionsRejected(rej Rejected) {
	if f.GetPendingRejected != nil {
		f.GetPendingRejected(rej)
	}
}

func (f ClientFuncs) OnStartNextPendingExecutionAccepted(resp StartNextResponse) {
	if f.StartNextAccepted != nil {
		f.StartNextAccepted(resp)
	}
}

func (f ClientFuncs) OnStartNextPendingExecutionRejected(rej Rejected) {
	if f.StartNextRejected != nil {
		f.StartNextRejected(rej)
	}
}

func (f ClientFuncs) OnExecutionsChanged(event ExecutionsChangedEvent) {
	if f.ExecutionsChanged != nil {
		f.ExecutionsChanged(event)
	}
}

func (f ClientFuncs) OnNextExecutionChanged(event NextExecutionChangedEvent) {
	if f.NextExecutionChanged != nil {
		f.NextExecutionChanged(event)
	}
}

func (f ClientFuncs) OnResponseError(topic string, err error) {
	if f.ResponseError != nil {
		f.ResponseError(topic, err)
	}
}

// JobFuncs adapts optional functions to JobHandler. Nil fields are
// ignored.
type JobFuncs struct {
	SubscribeCompleted func(topic string, err error)
	DescribeAccepted   func(DescribeResponse)
	DescribeRejected   func(Rejected)
	UpdateAccepted     func(UpdateResponse)
	UpdateRejected     func(Rejected)
	ResponseError      func(topic string, err error)
}

var _ JobHandler = JobFuncs{}

func (f JobFuncs) OnSubscribeCompleted(topic string, err error) {
	if f.SubscribeCompleted != nil {
		f.SubscribeCompleted(topic, err)
	}
}

func (f JobFuncs) OnDescribeExecutionAccepted(resp DescribeResponse) {
	if f.DescribeAccepted != nil {
		f.DescribeAccepted(resp)
	}
}

func (f JobFuncs) OnDescribeExecutionRejected(rej Rejected) {
	if f.DescribeRejected != nil {
		f.DescribeRejected(rej)
	}
}

func (f JobFuncs) OnUpdateExecutionAccepted(resp UpdateResponse) {
	if f.UpdateAccepted != nil {
		f.UpdateAccepted(resp)
	}
}

func (f JobFuncs) OnUpdateExecutionRejected(rej Rejected) {
	if f.UpdateRejected != nil {
		f.UpdateRejected(rej)
	}
}

func (f JobFuncs) OnResponseError(topic string, err error) {
	if f.ResponseError != nil {
		f.ResponseError(topic, err)
	}
}
