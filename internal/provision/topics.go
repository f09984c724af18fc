package provision

import "fmt"

// Suffix selects the request, accepted or rejected variant of a topic.
type Suffix string

// Topic suffixes of the request/response pairs.
const (
	SuffixRequest  Suffix = ""
	SuffixAccepted Suffix = "/accepted"
	SuffixRejected Suffix = "/rejected"
)

// Topics builds the reserved fleet provisioning topics of one payload
// format.
//
//	topics := provision.NewTopics(provision.FormatJSON)
//	topics.RegisterThing("factory", provision.SuffixAccepted)
//	// Returns: "$aws/provisioning-templates/factory/provision/json/accepted"
type Topics struct {
	format Format
}

// NewTopics returns the topic builder for format.
func NewTopics(format Format) Topics {
	return Topics{format: format}
}

// CreateKeysAndCertificate returns the create-keys-and-certificate topic.
//
// Example: $aws/certificates/create/json
func (t Topics) CreateKeysAndCertificate(s Suffix) string {
	return fmt.Sprintf("$aws/certificates/create/%s%s", t.format, s)
}

// CreateCertificateFromCSR returns the create-certificate-from-csr topic.
//
// Example: $aws/certificates/create-from-csr/cbor/rejected
func (t Topics) CreateCertificateFromCSR(s Suffix) string {
	return fmt.Sprintf("$aws/certificates/create-from-csr/%s%s", t.format, s)
}

// RegisterThing returns the provision topic of template.
//
// Example: $aws/provisioning-templates/factory/provision/json
func (t Topics) RegisterThing(template string, s Suffix) string {
	return fmt.Sprintf("$aws/provisioning-templates/%s/provision/%s%s", template, t.format, s)
}
