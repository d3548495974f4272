package production

import (
	"ionbridge/pkg/adapter"
	"ionbridge/pkg/apperror"
	"ionbridge/pkg/host"
)

// registerBuiltinAdapters registers the engine's inbound and outbound
// adapter implementations under the ClassRegistry's protected
// engine.adapters.* namespace, resolved by an Item's AdapterSettings
// Type key (mllp|http|file) rather than by ClassName directly — an
// Item's ClassName selects its Host specialisation; its adapter is a
// property of that specialisation's configuration, not a separate
// configured class.
func (p *Production) registerBuiltinAdapters() error {
	reg := func(name string, ctor func(settings map[string]any) (any, error)) error {
		return p.classes.RegisterBuiltin(name, ctor)
	}

	if err := reg("engine.adapters.mllp_inbound", func(settings map[string]any) (any, error) {
		s, h, err := inboundArgs(settings)
		if err != nil {
			return nil, err
		}
		return adapter.NewMLLPInbound(s, h), nil
	}); err != nil {
		return err
	}
	if err := reg("engine.adapters.http_inbound", func(settings map[string]any) (any, error) {
		s, h, err := inboundArgs(settings)
		if err != nil {
			return nil, err
		}
		return adapter.NewHTTPInbound(s, h), nil
	}); err != nil {
		return err
	}
	if err := reg("engine.adapters.file_inbound", func(settings map[string]any) (any, error) {
		s, h, err := inboundArgs(settings)
		if err != nil {
			return nil, err
		}
		return adapter.NewFileInbound(s, h), nil
	}); err != nil {
		return err
	}
	if err := reg("engine.adapters.mllp_outbound", func(settings map[string]any) (any, error) {
		return adapter.NewMLLPOutbound(outboundSettings(settings)), nil
	}); err != nil {
		return err
	}
	if err := reg("engine.adapters.http_outbound", func(settings map[string]any) (any, error) {
		s := outboundSettings(settings)
		headers, _ := settings["_headers"].(map[string]string)
		return adapter.NewHTTPOutbound(s, headers), nil
	}); err != nil {
		return err
	}
	if err := reg("engine.adapters.file_outbound", func(settings map[string]any) (any, error) {
		return adapter.NewFileOutbound(outboundSettings(settings)), nil
	}); err != nil {
		return err
	}

	return nil
}

func inboundArgs(settings map[string]any) (adapter.Settings, adapter.Handler, error) {
	s := outboundSettings(settings)
	h, ok := settings["_handler"].(adapter.Handler)
	if !ok {
		return nil, nil, apperror.New(apperror.ConfigurationError, "inbound adapter constructor missing handler")
	}
	return s, h, nil
}

func outboundSettings(settings map[string]any) adapter.Settings {
	raw, _ := settings["_adapter_settings"].(map[string]any)
	return adapter.Settings(raw)
}

// registerBuiltinHosts registers the four Host specialisations under the
// ClassRegistry's protected engine.hosts.* namespace. Each constructor
// receives the full per-Item build context via the _item settings key
// (the ItemConfig plus the shared deps) rather than adapter_settings alone — a Host needs its pool size,
// targets, and restart tuning in addition to protocol options, none of
// which a plain adapter_settings map carries.
func (p *Production) registerBuiltinHosts() error {
	reg := func(name string, ctor func(settings map[string]any) (any, error)) error {
		return p.classes.RegisterBuiltin(name, ctor)
	}

	if err := reg("engine.hosts.service", func(settings map[string]any) (any, error) {
		return p.buildServiceHost(buildArgs(settings))
	}); err != nil {
		return err
	}
	if err := reg("engine.hosts.process", func(settings map[string]any) (any, error) {
		return p.buildProcessHost(buildArgs(settings), host.KindProcess)
	}); err != nil {
		return err
	}
	if err := reg("engine.hosts.fhir", func(settings map[string]any) (any, error) {
		return p.buildProcessHost(buildArgs(settings), host.KindFHIR)
	}); err != nil {
		return err
	}
	if err := reg("engine.hosts.operation", func(settings map[string]any) (any, error) {
		return p.buildOperationHost(buildArgs(settings))
	}); err != nil {
		return err
	}
	return nil
}

func buildArgs(settings map[string]any) itemArgs {
	a, _ := settings["_item"].(itemArgs)
	return a
}
