package unread

import (
	"DMSync/module/dm/model"
	"DMSync/tools/decode"
	"DMSync/tools/errs"
)

type NewMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
}

type NewApplicationPayload struct {
	JobID       string `json:"jobId"`
	ApplicantID string `json:"applicantId"`
	Title       string `json:"title"`
}

type ApplicationStatusPayload struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Title  string `json:"title"`
}

type SystemPayload struct {
	Message string `json:"message"`
}

// validatePayload 按通知类型校验 payload 必填字段
func validatePayload(typ string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	switch typ {
	case model.NotifyNewMessage:
		p, err := decode.DecodeMap[NewMessagePayload](payload)
		if err != nil {
			return errs.ErrInvalidArgument.WrapErr(err, "payload", "type", typ)
		}
		return required(typ, "conversationId", p.ConversationID, "messageId", p.MessageID, "senderId", p.SenderID)
	case model.NotifyNewApplication:
		p, err := decode.DecodeMap[NewApplicationPayload](payload)
		if err != nil {
			return errs.ErrInvalidArgument.WrapErr(err, "payload", "type", typ)
		}
		return required(typ, "jobId", p.JobID, "applicantId", p.ApplicantID)
	case model.NotifyApplicationStatus:
		p, err := decode.DecodeMap[ApplicationStatusPayload](payload)
		if err != nil {
			return errs.ErrInvalidArgument.WrapErr(err, "payload", "type", typ)
		}
		return required(typ, "jobId", p.JobID, "status", p.Status)
	case model.NotifySystem:
		p, err := decode.DecodeMap[SystemPayload](payload)
		if err != nil {
			return errs.ErrInvalidArgument.WrapErr(err, "payload", "type", typ)
		}
		return required(typ, "message", p.Message)
	}
	return errs.ErrInvalidArgument.WrapMsg("unknown notification type", "type", typ)
}

// required takes name/value pairs.
func required(typ string, kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return errs.ErrInvalidArgument.WrapMsg("payload field missing", "type", typ, "field", kv[i])
		}
	}
	return nil
}
