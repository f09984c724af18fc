// Package provision implements the device side of AWS IoT fleet
// provisioning over MQTT.
//
// A device connected with claim credentials asks for a certificate, either
// with a key pair generated by AWS IoT (CreateKeysAndCertificate) or signed
// from its own certificate signing request (CreateCertificateFromCSR), and
// then registers itself through a provisioning template (RegisterThing).
//
// Each call subscribes to the accepted and rejected topics of its request,
// publishes the request once both subscriptions are acknowledged and waits
// for one of the two answers. The subscriptions are withdrawn when the call
// returns. Responses carry no correlation token, so calls on one Client
// run one at a time.
//
// Payloads are JSON or CBOR, selected by Format; the topics differ only in
// their last segment.
package provision
