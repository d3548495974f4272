package host

import (
	"context"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/audit"
	"ionbridge/pkg/hl7"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/message"
	"ionbridge/pkg/routing"
	"ionbridge/pkg/transform"
)

// BadMessageHandler is invoked when a Process's RuleSet finds no
// matching rule and no default fan-out. Returning a nil error treats
// the message as handled (dropped); a non-nil error fails it.
type BadMessageHandler func(ctx context.Context, msg message.Message) error

// ProcessConfig extends Config with the routing machinery a
// BusinessProcess evaluates every message against.
type ProcessConfig struct {
	Config
	Rules      *routing.RuleSet
	Transforms *transform.Registry
	Audit      audit.Logger
	OnNoMatch  BadMessageHandler
}

type process struct {
	rules      *routing.RuleSet
	transforms *transform.Registry
	auditLog   audit.Logger
	onNoMatch  BadMessageHandler
}

// NewProcess builds a BusinessProcess Host: a content-based router that
// evaluates its RuleSet against each message's HL7 fields and either
// forwards it (send), rewrites it (transform) before forwarding, or logs
// it to the audit trail and drops it (delete).
func NewProcess(cfg ProcessConfig) *Host {
	p := &process{
		rules:      cfg.Rules,
		transforms: cfg.Transforms,
		auditLog:   cfg.Audit,
		onNoMatch:  cfg.OnNoMatch,
	}
	return newBase(cfg.Config, p.onMessage, Hooks{})
}

func (p *process) onMessage(ctx context.Context, h *Host, msg message.Message) (Result, error) {
	view := hl7.NewParsedView(msg.Payload.Raw)
	outcome := p.rules.Evaluate(view)

	if !outcome.Matched {
		if p.onNoMatch != nil {
			if err := p.onNoMatch(ctx, msg); err != nil {
				return Result{}, err
			}
			return Result{Message: msg, Drop: true}, nil
		}
		return Result{}, apperror.New(apperror.NoMatch, "no routing rule matched and no default fan-out configured").WithHost(h.name)
	}

	switch outcome.Action {
	case routing.ActionDelete:
		p.recordDenied(ctx, h, msg, outcome.Rule)
		return Result{Message: msg, Drop: true}, nil

	case routing.ActionTransform:
		fn := transform.Identity
		if outcome.TransformID != "" {
			resolved, err := p.transforms.Resolve(outcome.TransformID)
			if err != nil {
				return Result{}, err
			}
			fn = resolved
		}
		transformed, err := fn(msg)
		if err != nil {
			return Result{}, apperror.Wrap(apperror.Internal, err, "transform "+outcome.TransformID+" failed").WithHost(h.name)
		}
		return Result{Message: transformed, Targets: outcome.Targets}, nil

	default: // routing.ActionSend
		return Result{Message: msg, Targets: outcome.Targets}, nil
	}
}

func (p *process) recordDenied(ctx context.Context, h *Host, msg message.Message, rule string) {
	if p.auditLog == nil {
		return
	}
	entry := audit.NewEntry(h.name, msg.Envelope.MessageID, msg.Envelope.CorrelationID, rule)
	if err := p.auditLog.Log(ctx, entry); err != nil {
		logger.Log.Warn("audit log write failed", "host", h.name, "error", err)
	}
}
