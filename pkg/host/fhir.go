package host

// NewFHIR builds a FHIRHost: a Host that satisfies the same Host
// contract as any other Item and forwards to the routing-rule engine
// unchanged, with no FHIR-specific parsing. It is BusinessProcess's
// routing logic wearing a different Kind, kept as its own constructor so
// a Production config's class_name can select it distinctly and so any
// future FHIR-specific field resolution has a home that doesn't disturb
// BusinessProcess's HL7 path.
func NewFHIR(cfg ProcessConfig) *Host {
	cfg.Config.Kind = KindFHIR
	return NewProcess(cfg)
}
