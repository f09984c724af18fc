package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on UTF-8 encoded topic length.
const maxTopicLength = 65535

// validateTopicName checks a topic used for publishing. Wildcards are not
// permitted in topic names.
func validateTopicName(topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateTopicFilter checks a subscription filter. '#' must be the last
// level and '+' must occupy a whole level.
func validateTopicFilter(filter string) error {
	if err := validateTopic(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: misplaced '#' in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: misplaced '+' in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}
