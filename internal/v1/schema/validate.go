package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError reports a schema violation with its stable protocol code.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func newValidationError(detail string) *ValidationError {
	return &ValidationError{Code: ErrValidationFailed, Detail: detail}
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// roomcode: uppercase confusable-free alphabet, 4-8 chars
		_ = validate.RegisterValidation("roomcode", func(fl validator.FieldLevel) bool {
			code := fl.Field().String()
			if len(code) < 4 || len(code) > 8 {
				return false
			}
			for _, c := range code {
				if !strings.ContainsRune(RoomCodeAlphabet, c) {
					return false
				}
			}
			return true
		})
	})
	return validate
}

// IsValidRoomCode reports whether a code satisfies the alphabet and length rules.
func IsValidRoomCode(code string) bool {
	if len(code) < 4 || len(code) > 8 {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, c) {
			return false
		}
	}
	return true
}

// Decode parses and validates a raw inbound frame. It returns the envelope and
// the decoded, validated payload. Unknown kinds and structural violations
// return a *ValidationError carrying VALIDATION_FAILED.
func Decode(raw []byte) (*Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, newValidationError("malformed envelope: " + err.Error())
	}
	if err := getValidator().Struct(&env); err != nil {
		return nil, nil, newValidationError("invalid envelope: " + err.Error())
	}

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return &env, nil, err
	}
	return &env, payload, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (any, error) {
	var target any
	switch kind {
	case KindHandshake:
		target = &HandshakePayload{}
	case KindIntent:
		target = &IntentPayload{}
	case KindIntentResult:
		target = &IntentResultPayload{}
	case KindEvent:
		target = &EventPayload{}
	case KindStateSync:
		target = &StateSyncPayload{}
	case KindAck:
		target = &AckPayload{}
	case KindReplayRequest:
		target = &ReplayRequestPayload{}
	case KindReplayResponse:
		target = &ReplayResponsePayload{}
	case KindFSMTransition:
		target = &FSMTransitionPayload{}
	case KindPlayerRoster:
		target = &PlayerRosterPayload{}
	case KindSettingsUpdate:
		target = &SettingsUpdatePayload{}
	case KindError:
		target = &ErrorPayload{}
	default:
		return nil, newValidationError("unknown message kind: " + string(kind))
	}

	if len(raw) == 0 {
		return nil, newValidationError("missing payload for kind " + string(kind))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, newValidationError("malformed payload: " + err.Error())
	}
	if err := getValidator().Struct(target); err != nil {
		return nil, newValidationError("invalid payload: " + err.Error())
	}

	// Cross-field rules the tag grammar cannot express.
	if rr, ok := target.(*ReplayRequestPayload); ok {
		if rr.FromVersion == nil && rr.FromTimestamp == nil {
			return nil, newValidationError("replay_request requires fromVersion or fromTimestamp")
		}
	}

	return target, nil
}
