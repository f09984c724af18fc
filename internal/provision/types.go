package provision

import (
	"fmt"
	"regexp"
)

// CertificateInfo is the accepted answer to both certificate requests.
// PrivateKey is only set by CreateKeysAndCertificate.
type CertificateInfo struct {
	CertificateID  string `json:"certificateId"`
	CertificatePEM string `json:"certificatePem"`
	PrivateKey     string `json:"privateKey,omitempty"`

	// OwnershipToken proves possession of the certificate to RegisterThing.
	OwnershipToken string `json:"certificateOwnershipToken"`
}

// RegisterThingResponse is the accepted answer to RegisterThing.
type RegisterThingResponse struct {
	DeviceConfiguration map[string]string `json:"deviceConfiguration,omitempty"`
	ThingName           string            `json:"thingName"`
}

// Rejected is the payload of every */rejected topic.
type Rejected struct {
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Error formats the rejection so it can be logged or returned as an error.
func (r Rejected) Error() string {
	if r.ErrorMessage == "" {
		return fmt.Sprintf("provision: rejected: %d %s", r.StatusCode, r.ErrorCode)
	}
	return fmt.Sprintf("provision: rejected: %d %s: %s", r.StatusCode, r.ErrorCode, r.ErrorMessage)
}

// Unwrap lets errors.Is match ErrRejected.
func (r Rejected) Unwrap() error {
	return ErrRejected
}

// createKeysRequest is the empty document of CreateKeysAndCertificate.
type createKeysRequest struct{}

type createFromCSRRequest struct {
	CSR string `json:"certificateSigningRequest"`
}

type registerThingRequest struct {
	OwnershipToken string            `json:"certificateOwnershipToken"`
	Parameters     map[string]string `json:"parameters,omitempty"`
}

// templateNamePattern matches provisioning template names.
var templateNamePattern = regexp.MustCompile(`^[0-9A-Za-z_-]{1,36}$`)

// ValidateTemplateName checks a provisioning template name.
func ValidateTemplateName(name string) error {
	if !templateNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTemplate, name)
	}
	return nil
}
