package host

import (
	"context"
	"time"

	"ionbridge/pkg/ackaction"
	"ionbridge/pkg/apperror"
	"ionbridge/pkg/hl7"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/message"
)

// SendFunc dispatches one message through an outbound Adapter, returning
// the raw reply bytes (an HL7 ACK, an HTTP response body) or nil when the
// underlying Adapter has no reply concept (File). It exists so a
// BusinessOperation's worker-loop strategy stays independent of which
// concrete outbound Adapter's Send signature it is wired to.
type SendFunc func(ctx context.Context, msg message.Message) ([]byte, error)

// OperationConfig extends Config with outbound dispatch and the ACK
// state machine an operation evaluates each reply against.
type OperationConfig struct {
	Config
	Send       SendFunc
	AckActions *ackaction.Table
	RetryDelay time.Duration
}

type operation struct {
	send       SendFunc
	ackActions *ackaction.Table
	retryDelay time.Duration
}

// NewOperation builds a BusinessOperation Host: it dispatches each
// message through its outbound Adapter and evaluates the reply's ACK
// code against the ReplyCodeActions state machine to decide whether the
// send succeeded, failed outright, warrants a retry, or merely warns.
func NewOperation(cfg OperationConfig) *Host {
	actions := cfg.AckActions
	if actions == nil {
		actions, _ = ackaction.Parse("")
	}
	op := &operation{
		send:       cfg.Send,
		ackActions: actions,
		retryDelay: cfg.RetryDelay,
	}
	return newBase(cfg.Config, op.onMessage, Hooks{})
}

func (op *operation) onMessage(ctx context.Context, h *Host, msg message.Message) (Result, error) {
	for {
		reply, err := op.send(ctx, msg)
		if err != nil {
			return Result{}, apperror.Wrap(apperror.SendError, err, "outbound send failed").WithHost(h.name)
		}

		action, code := op.evaluate(reply)
		switch action {
		case ackaction.Success:
			return Result{Message: msg, Drop: true}, nil

		case ackaction.Warn:
			logger.Log.Warn("outbound ack warning", "host", h.name, "code", code, "message_id", msg.Envelope.MessageID)
			return Result{Message: msg, Drop: true}, nil

		case ackaction.Fail:
			return Result{}, apperror.New(apperror.SendError, "outbound rejected with ack code "+code).WithHost(h.name)

		case ackaction.Retry:
			if msg.RetriesExhausted() {
				return Result{}, apperror.New(apperror.SendError, "outbound retries exhausted, last ack code "+code).WithHost(h.name)
			}
			msg = msg.WithRetry()
			if op.retryDelay > 0 {
				t := time.NewTimer(op.retryDelay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return Result{}, ctx.Err()
				}
			}
			continue

		default:
			return Result{Message: msg, Drop: true}, nil
		}
	}
}

// evaluate inspects reply for an HL7 ACK's MSA-1 code and returns the
// ReplyCodeActions outcome for it. A nil or non-HL7 reply (a File
// Adapter's Send has no reply concept; an HTTP Adapter's body may not be
// HL7) is treated as an unconditional success.
func (op *operation) evaluate(reply []byte) (ackaction.Action, string) {
	if !looksLikeHL7(reply) {
		return ackaction.Success, ""
	}
	view := hl7.NewParsedView(reply)
	code := view.GetField("MSA-1", "")
	if code == "" {
		return ackaction.Success, ""
	}
	return op.ackActions.Evaluate(code), code
}
