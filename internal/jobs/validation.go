package jobs

import (
	"fmt"
	"regexp"
)

// Validation constants.
const (
	maxThingNameLength = 128
	maxJobIDLength     = 64
)

var (
	thingNameRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)
	jobIDRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateThingName checks a thing name before it is placed in a topic.
func ValidateThingName(name string) error {
	if name == "" || len(name) > maxThingNameLength || !thingNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidThingName, name)
	}
	return nil
}

func validateJobID(id string) error {
	if id == "" || len(id) > maxJobIDLength || !jobIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}

func validateQoS(qos byte) error {
	if qos > 2 {
		return fmt.Errorf("%w: qos %d", ErrBootstrapFailed, qos)
	}
	return nil
}
