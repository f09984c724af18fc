package provision

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	js := NewTopics(FormatJSON)
	cb := NewTopics(FormatCBOR)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"create", js.CreateKeysAndCertificate(SuffixRequest), "$aws/certificates/create/json"},
		{"create accepted", js.CreateKeysAndCertificate(SuffixAccepted), "$aws/certificates/create/json/accepted"},
		{"create cbor rejected", cb.CreateKeysAndCertificate(SuffixRejected), "$aws/certificates/create/cbor/rejected"},
		{"from csr", js.CreateCertificateFromCSR(SuffixRequest), "$aws/certificates/create-from-csr/json"},
		{"from csr cbor accepted", cb.CreateCertificateFromCSR(SuffixAccepted), "$aws/certificates/create-from-csr/cbor/accepted"},
		{"register", js.RegisterThing("factory", SuffixRequest), "$aws/provisioning-templates/factory/provision/json"},
		{"register rejected", js.RegisterThing("factory", SuffixRejected), "$aws/provisioning-templates/factory/provision/json/rejected"},
		{"register cbor", cb.RegisterThing("factory", SuffixAccepted), "$aws/provisioning-templates/factory/provision/cbor/accepted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestValidateTemplateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "factory", false},
		{"dashes and underscores", "fleet_v2-eu", false},
		{"max length", "abcdefghijklmnopqrstuvwxyz0123456789", false},
		{"empty", "", true},
		{"too long", "abcdefghijklmnopqrstuvwxyz0123456789x", true},
		{"slash", "a/b", true},
		{"wildcard", "a+", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTemplateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("error = %v, want ErrInvalidTemplate", err)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "cbor"} {
		f, err := ParseFormat(s)
		if err != nil || string(f) != s {
			t.Errorf("ParseFormat(%q) = %q, %v", s, f, err)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("ParseFormat(xml) error = %v, want ErrInvalidFormat", err)
	}
}

func TestFormat_EmptyCreateRequest(t *testing.T) {
	tests := []struct {
		format Format
		want   []byte
	}{
		{FormatJSON, []byte("{}")},
		{FormatCBOR, []byte{0xa0}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			got, err := tt.format.marshal(createKeysRequest{})
			if err != nil {
				t.Fatalf("marshal() error = %v", err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("marshal() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestRejected_Error(t *testing.T) {
	rej := Rejected{StatusCode: 400, ErrorCode: "InvalidPayload", ErrorMessage: "missing token"}
	if got, want := rej.Error(), "provision: rejected: 400 InvalidPayload: missing token"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(rej, ErrRejected) {
		t.Error("errors.Is(Rejected, ErrRejected) = false")
	}
}
