package provision

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Format is the payload format of the provisioning topics.
type Format string

// Payload formats. The value is the last segment of every topic.
const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat returns the Format named s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCBOR:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

// cborEnc encodes with Core Deterministic Encoding. Struct fields take
// their keys from the json tags.
var cborEnc cbor.EncMode

// cborDec ignores unknown fields.
var cborDec cbor.DecMode

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("provision: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("provision: CBOR decoder initialization failed: " + err.Error())
	}
}

func (f Format) marshal(v any) ([]byte, error) {
	if f == FormatCBOR {
		return cborEnc.Marshal(v)
	}
	return json.Marshal(v)
}

func (f Format) unmarshal(data []byte, v any) error {
	if f == FormatCBOR {
		return cborDec.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
