package jobs

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRequestEncoding_OmitsUnsetFields(t *testing.T) {
	tests := []struct {
		name string
		req  any
		want string
	}{
		{
			name: "empty update",
			req:  UpdateRequest{},
			want: `{}`,
		},
		{
			name: "explicit zero values are present",
			req: UpdateRequest{
				ExecutionNumber:    Some(int64(0)),
				IncludeJobDocument: Some(false),
			},
			want: `{"executionNumber":0,"includeJobDocument":false}`,
		},
		{
			name: "job id never encoded",
			req:  DescribeRequest{JobID: Some("fw-42"), IncludeJobDocument: Some(true)},
			want: `{"includeJobDocument":true}`,
		},
		{
			name: "start next with details",
			req: StartNextRequest{
				StepTimeoutInMinutes: Some(int64(10)),
				StatusDetails:        Some(StatusDetails{"step": "download"}),
			},
			want: `{"stepTimeoutInMinutes":10,"statusDetails":{"step":"download"}}`,
		},
		{
			name: "empty status details are present",
			req:  StartNextRequest{StatusDetails: Some(StatusDetails{})},
			want: `{"statusDetails":{}}`,
		},
		{
			name: "get pending with token",
			req:  GetPendingRequest{ClientToken: Some("tok-1")},
			want: `{"clientToken":"tok-1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := encodeRequest(tt.req)
			if err != nil {
				t.Fatalf("encodeRequest() error = %v", err)
			}
			defer buf.Destroy()

			if !buf.IsOwned() {
				t.Error("encoded request is not Owned")
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("encodeRequest() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOptional_Unmarshal(t *testing.T) {
	var v struct {
		A Optional[int64]  `json:"a"`
		B Optional[string] `json:"b"`
		C Optional[bool]   `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":0,"b":null}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got, ok := v.A.Get(); !ok || got != 0 {
		t.Errorf("A = (%d, %v), want (0, true)", got, ok)
	}
	if v.B.IsSet() {
		t.Error("B set from null")
	}
	if v.C.IsSet() {
		t.Error("C set when absent")
	}
	if got := v.C.OrElse(true); !got {
		t.Error("OrElse() on unset = false, want fallback true")
	}
}

func TestTimestamp_Unmarshal(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"1700000000", time.Unix(1700000000, 0), false},
		{"1700000000.5", time.Unix(1700000000, int64(500*time.Millisecond)), false},
		{`"yesterday"`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !ts.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", ts.Time, tt.want)
			}
		})
	}

	data, err := json.Marshal(NewTimestamp(time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "1700000000" {
		t.Errorf("Marshal() = %s, want 1700000000", data)
	}
}

func TestPendingExecutions_KeepsOrder(t *testing.T) {
	payload := `{
		"inProgressJobs": [{"jobId": "a", "executionNumber": 1}],
		"queuedJobs": [
			{"jobId": "q1", "queuedAt": 1700000001},
			{"jobId": "q2", "queuedAt": 1700000002},
			{"jobId": "q3", "queuedAt": 1700000003}
		],
		"timestamp": 1700000010
	}`

	var resp PendingExecutions
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(resp.InProgressJobs) != 1 || resp.InProgressJobs[0].JobID.OrElse("") != "a" {
		t.Errorf("InProgressJobs = %+v", resp.InProgressJobs)
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if got := resp.QueuedJobs[i].JobID.OrElse(""); got != want {
			t.Errorf("QueuedJobs[%d] = %q, want %q", i, got, want)
		}
	}
	if resp.ClientToken.IsSet() {
		t.Error("ClientToken set when absent")
	}
}
