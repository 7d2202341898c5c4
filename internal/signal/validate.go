package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ValidationError reports a malformed or schema-violating message.
// Details is keyed by field path so clients can pinpoint the problem.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal message: %v", e.Details)
}

func invalid(field, problem string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: problem}}
}

// Validate parses and validates a raw signaling frame. Parsing failures
// and schema failures are both reported as *ValidationError; the caller
// turns them into an error reply and keeps serving the connection.
// A zero timestamp is replaced with the current time.
func Validate(raw []byte) (*Message, error) {
	return validateAt(raw, time.Now())
}

func validateAt(raw []byte, now time.Time) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "$"
			}
			return nil, invalid(field, fmt.Sprintf("expected %s", typeErr.Type))
		}
		return nil, invalid("$", "malformed JSON")
	}

	if msg.SenderID == "" {
		return nil, invalid("senderId", "required")
	}

	// Check the discriminant before touching any variant field.
	switch msg.Type {
	case TypeSDP:
		if msg.TargetID == "" {
			return nil, invalid("targetId", "required")
		}
		if msg.SDP == nil {
			return nil, invalid("sdp", "required")
		}
		if msg.SDP.Type != "offer" && msg.SDP.Type != "answer" {
			return nil, invalid("sdp.type", "must be offer or answer")
		}
		if msg.SDP.SDP == "" {
			return nil, invalid("sdp.sdp", "required")
		}
	case TypeICE:
		if msg.TargetID == "" {
			return nil, invalid("targetId", "required")
		}
		if msg.ICE == nil {
			return nil, invalid("ice", "required")
		}
		if msg.ICE.Candidate == "" {
			return nil, invalid("ice.candidate", "required")
		}
	case TypeHostChange:
		if msg.NewHostID == "" {
			return nil, invalid("newHostId", "required")
		}
	case TypeKick:
		if msg.TargetID == "" {
			return nil, invalid("targetId", "required")
		}
	case "":
		return nil, invalid("type", "required")
	default:
		return nil, invalid("type", fmt.Sprintf("unknown type %q", msg.Type))
	}

	if msg.Timestamp == 0 {
		msg.Timestamp = now.UnixMilli()
	}

	return &msg, nil
}
