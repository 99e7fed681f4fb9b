package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"

	validator "github.com/go-playground/validator/v10"
)

var channelNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]{0,127}$`)

// SubscribePayload is the declared schema for the subscribe action.
type SubscribePayload struct {
	Channel string                 `json:"channel" validate:"required,channelname"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// UnsubscribePayload is the declared schema for the unsubscribe action.
type UnsubscribePayload struct {
	Channel string `json:"channel" validate:"required,channelname"`
}

// MessagePayload is the declared schema for the message action.
type MessagePayload struct {
	Channel string          `json:"channel" validate:"required,channelname"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// SchemaValidator checks inbound payloads against their declared field
// schema and reports per-field errors, mirroring the field-level contract
// of the request-validation engine.
type SchemaValidator struct {
	validate *validator.Validate
}

// NewSchemaValidator builds a validator with the gateway's custom rules.
func NewSchemaValidator() *SchemaValidator {
	v := validator.New()
	_ = v.RegisterValidation("channelname", func(fl validator.FieldLevel) bool {
		return channelNameRE.MatchString(fl.Field().String())
	})
	return &SchemaValidator{validate: v}
}

// DecodeSubscribe parses and validates a subscribe payload. The returned
// fields carry per-field validation detail for the error frame.
func (s *SchemaValidator) DecodeSubscribe(data json.RawMessage) (SubscribePayload, []string) {
	var p SubscribePayload
	if fields := s.decode(data, &p); fields != nil {
		return p, fields
	}
	return p, nil
}

// DecodeUnsubscribe parses and validates an unsubscribe payload.
func (s *SchemaValidator) DecodeUnsubscribe(data json.RawMessage) (UnsubscribePayload, []string) {
	var p UnsubscribePayload
	if fields := s.decode(data, &p); fields != nil {
		return p, fields
	}
	return p, nil
}

// DecodeMessage parses and validates a message payload.
func (s *SchemaValidator) DecodeMessage(data json.RawMessage) (MessagePayload, []string) {
	var p MessagePayload
	if fields := s.decode(data, &p); fields != nil {
		return p, fields
	}
	return p, nil
}

func (s *SchemaValidator) decode(data json.RawMessage, target interface{}) []string {
	if len(data) == 0 {
		return []string{"data: required"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return []string{"data: must be an object"}
	}
	if err := s.validate.Struct(target); err != nil {
		return fieldMessages(err)
	}
	return nil
}

// fieldMessages converts validator errors into "field: rule" strings.
func fieldMessages(err error) []string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s: required", jsonFieldName(fe)))
		case "channelname":
			messages = append(messages, fmt.Sprintf("%s: must be a valid channel name", jsonFieldName(fe)))
		default:
			messages = append(messages, fmt.Sprintf("%s: %s", jsonFieldName(fe), fe.Tag()))
		}
	}
	return messages
}

func jsonFieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Channel":
		return "channel"
	case "Payload":
		return "payload"
	case "Options":
		return "options"
	}
	return fe.Field()
}
