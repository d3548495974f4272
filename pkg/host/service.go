package host

import (
	"bytes"
	"context"

	"ionbridge/pkg/adapter"
	"ionbridge/pkg/apperror"
	"ionbridge/pkg/hl7"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/message"
)

// Validation selects how strictly a BusinessService inspects an inbound
// HL7 message before accepting it onto its queue.
type Validation string

const (
	ValidationNone  Validation = "none"
	ValidationWarn  Validation = "warn"
	ValidationError Validation = "error"
)

// ServiceConfig extends Config with the inbound-only settings a
// BusinessService needs.
type ServiceConfig struct {
	Config
	Validation Validation
}

// service holds the handler state a BusinessService closes over; the
// Host itself stores no specialisation-specific fields.
type service struct {
	validation Validation
}

// NewService builds an inbound BusinessService Host and the
// adapter.Handler it expects its inbound Adapter to invoke. The two are
// returned separately because the Adapter constructor needs the handler
// before the Host can be handed the constructed Adapter:
//
//	h, handler := host.NewService(cfg)
//	in := adapter.NewMLLPInbound(settings, handler)
//	h.SetInbound(in)
func NewService(cfg ServiceConfig) (*Host, adapter.Handler) {
	svc := &service{validation: cfg.Validation}
	h := newBase(cfg.Config, svc.onMessage, Hooks{})
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return svc.handle(ctx, h, payload)
	}
	return h, handler
}

// onMessage is a BusinessService's own worker-loop strategy: the Adapter
// already accepted and (for HL7) ACKed the message synchronously inside
// Handler, so processing here is a pass-through whose only job is to let
// the shared worker-loop mechanics — WAL bookkeeping, hooks, and fan-out
// to TargetConfigNames — run uniformly across every Host kind.
func (svc *service) onMessage(ctx context.Context, h *Host, msg message.Message) (Result, error) {
	return Result{Message: msg}, nil
}

func (svc *service) handle(ctx context.Context, h *Host, payload []byte) ([]byte, error) {
	if looksLikeHL7(payload) {
		return svc.handleHL7(ctx, h, payload)
	}

	msg := message.New("", message.Payload{Raw: payload}, h.name)
	if err := h.Enqueue(ctx, msg); err != nil {
		return nil, err
	}
	return []byte("accepted"), nil
}

func (svc *service) handleHL7(ctx context.Context, h *Host, payload []byte) ([]byte, error) {
	view := hl7.NewParsedView(payload)

	if err := svc.validate(view); err != nil {
		return hl7.BuildAck(view, hl7.AckApplicationReject, err.Error()), nil
	}

	msgType := view.MessageType()
	msg := message.New(msgType, message.Payload{Raw: payload, ContentType: "application/hl7-v2"}, h.name)
	if err := h.Enqueue(ctx, msg); err != nil {
		return hl7.BuildAck(view, hl7.AckApplicationError, "message rejected: "+err.Error()), nil
	}

	return hl7.BuildAck(view, hl7.AckApplicationAccept, "Message accepted"), nil
}

func (svc *service) validate(view *hl7.ParsedView) error {
	if svc.validation == ValidationNone || svc.validation == "" {
		return nil
	}
	if view.MessageControlID() == "" {
		err := apperror.New(apperror.ValidationFailed, "missing MSH-10 message control id").WithField("MSH-10")
		if svc.validation == ValidationWarn {
			logger.Log.Warn("hl7 inbound validation warning", "error", err)
			return nil
		}
		return err
	}
	return nil
}

func looksLikeHL7(payload []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(payload, "\x0b"), []byte("MSH"))
}
