package provision

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/inomotech-foss/beluga/internal/buffer"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// Client issues fleet provisioning requests on an MQTT session.
//
// Thread Safety:
//   - All methods are safe to call concurrently; calls are serialized.
type Client struct {
	session mqtt.Session
	format  Format
	topics  Topics
	qos     byte
	logger  mqtt.Logger

	mu sync.Mutex
}

// NewClient returns a Client that speaks format at qos on session.
//
// Parameters:
//   - session: MQTT session connected with the claim credentials
//   - format: Payload format of requests and answers
//   - qos: QoS of the subscriptions and requests (0 or 1)
//   - logger: Receives debug logs (may be nil)
//
// Returns:
//   - *Client: Ready to issue requests
//   - error: ErrInvalidFormat or ErrInvalidQoS
func NewClient(session mqtt.Session, format Format, qos byte, logger mqtt.Logger) (*Client, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidRequest)
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if qos > 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if logger == nil {
		logger = mqtt.NopLogger()
	}
	return &Client{
		session: session,
		format:  format,
		topics:  NewTopics(format),
		qos:     qos,
		logger:  logger,
	}, nil
}

// CreateKeysAndCertificate asks AWS IoT for a new key pair and a
// certificate signed for it.
func (c *Client) CreateKeysAndCertificate(ctx context.Context) (*CertificateInfo, error) {
	var info CertificateInfo
	err := c.call(ctx, c.topics.CreateKeysAndCertificate, createKeysRequest{}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateCertificateFromCSR asks AWS IoT to sign the PEM certificate
// signing request csr. The answer carries no private key.
func (c *Client) CreateCertificateFromCSR(ctx context.Context, csr string) (*CertificateInfo, error) {
	if csr == "" {
		return nil, fmt.Errorf("%w: certificate signing request is empty", ErrInvalidRequest)
	}
	var info CertificateInfo
	err := c.call(ctx, c.topics.CreateCertificateFromCSR, createFromCSRRequest{CSR: csr}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// RegisterThing registers the device through template, proving ownership
// of the certificate with its token. params are passed to the template.
func (c *Client) RegisterThing(ctx context.Context, template, ownershipToken string, params map[string]string) (*RegisterThingResponse, error) {
	if err := ValidateTemplateName(template); err != nil {
		return nil, err
	}
	if ownershipToken == "" {
		return nil, fmt.Errorf("%w: ownership token is empty", ErrInvalidRequest)
	}
	topic := func(s Suffix) string {
		return c.topics.RegisterThing(template, s)
	}
	req := registerThingRequest{OwnershipToken: ownershipToken, Parameters: params}

	var resp RegisterThingResponse
	if err := c.call(ctx, topic, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// reply is the first answer of a call, copied out of the engine's buffer.
type reply struct {
	accepted bool
	payload  []byte
}

// call subscribes to the accepted and rejected topics of a request,
// publishes req and decodes the answer into out. An answer on the rejected
// topic is returned as a Rejected error.
func (c *Client) call(ctx context.Context, topic func(Suffix) string, req, out any) error {
	body, err := c.format.marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %w", ErrInvalidRequest, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.session.Retain(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	defer c.session.Release()

	replies := make(chan reply, 1)
	deliver := func(accepted bool) mqtt.MessageFunc {
		return func(_ string, payload buffer.Buffer) {
			select {
			case replies <- reply{accepted: accepted, payload: slices.Clone(payload.Bytes())}:
			default:
			}
		}
	}

	acks := make(chan error, 2)
	onSubAck := func(_ uint16, topic string, _ byte, err error) {
		if err != nil {
			err = fmt.Errorf("%s: %w", topic, err)
		}
		acks <- err
	}

	var issued []string
	defer func() {
		for _, t := range issued {
			if _, err := c.session.Unsubscribe(t, nil); err != nil {
				c.logger.Debug("provision unsubscribe not sent", "topic", t, "error", err)
			}
		}
	}()
	for _, r := range []struct {
		topic    string
		accepted bool
	}{
		{topic(SuffixAccepted), true},
		{topic(SuffixRejected), false},
	} {
		if _, err := c.session.Subscribe(r.topic, c.qos, deliver(r.accepted), onSubAck); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, r.topic, err)
		}
		issued = append(issued, r.topic)
	}
	for range len(issued) {
		select {
		case err := <-acks:
			if err != nil {
				return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, ctx.Err())
		}
	}

	request := topic(SuffixRequest)
	if _, err := c.session.Publish(request, c.qos, false, buffer.Borrow(body), nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, request, err)
	}
	c.logger.Debug("provision request published", "topic", request)

	select {
	case r := <-replies:
		if !r.accepted {
			var rej Rejected
			if err := c.format.unmarshal(r.payload, &rej); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrDecodeResponse, topic(SuffixRejected), err)
			}
			return rej
		}
		if err := c.format.unmarshal(r.payload, out); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecodeResponse, topic(SuffixAccepted), err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrNoResponse, request, ctx.Err())
	}
}
