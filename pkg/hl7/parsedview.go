package hl7

import (
	"strconv"
	"strings"
	"sync"
)

// delimiters holds the five HL7 encoding characters carried in MSH-1/
// MSH-2.
type delimiters struct {
	field        byte
	component    byte
	repetition   byte
	escape       byte
	subcomponent byte
}

var defaultDelimiters = delimiters{
	field: '|', component: '^', repetition: '~', escape: '\\', subcomponent: '&',
}

// ParsedView is a lazy, memoised handle over raw HL7 ER7 bytes. Parsing
// happens on first field access; subsequent accesses of the same path
// are served from the memo (I-path-access: writes via one path never
// affect reads of another path).
type ParsedView struct {
	raw   []byte
	once  sync.Once
	delim delimiters
	// segments[name] is the list of repetitions of that 3-letter segment,
	// each already split on the field delimiter.
	segments map[string][][]string

	mu   sync.Mutex
	memo map[string]string
}

// NewParsedView wraps raw HL7 bytes. Parsing is deferred until the first
// Get* call.
func NewParsedView(raw []byte) *ParsedView {
	return &ParsedView{raw: raw, memo: make(map[string]string)}
}

func (v *ParsedView) ensureParsed() {
	v.once.Do(func() {
		v.delim = defaultDelimiters
		v.segments = make(map[string][][]string)

		lines := splitSegments(v.raw)
		for _, line := range lines {
			if len(line) < 3 {
				continue
			}
			name := string(line[:3])
			if name == "MSH" {
				v.parseMSH(line)
				continue
			}
			fields := strings.Split(string(line[4:]), string(v.delim.field))
			// For every segment but MSH, fields[0] is SEG-1: the segment
			// name (SEG-0) is already stripped, so field n sits at index
			// n-1.
			rep := append([]string{}, fields...)
			v.segments[name] = append(v.segments[name], rep)
		}
	})
}

// parseMSH handles MSH specially: MSH-1 is the field separator itself
// (occupying field position 1), and MSH-2 carries the remaining
// encoding characters, so field numbering inside MSH is offset by one
// relative to every other segment.
func (v *ParsedView) parseMSH(line []byte) {
	if len(line) < 4 {
		return
	}
	fieldSep := line[3]
	v.delim.field = fieldSep

	rest := string(line[4:])
	fields := strings.Split(rest, string(fieldSep))
	if len(fields) > 0 && len(fields[0]) >= 4 {
		enc := fields[0]
		v.delim.component = enc[0]
		v.delim.repetition = enc[1]
		v.delim.escape = enc[2]
		v.delim.subcomponent = enc[3]
	}

	// Store MSH with a synthetic field 1 = field separator so that path
	// resolution for MSH-1/MSH-2 shares the same code path as every
	// other field. MSH-3 in the stored slice corresponds to fields[1].
	stored := make([]string, 0, len(fields)+1)
	stored = append(stored, string(fieldSep)) // MSH-1
	stored = append(stored, fields...)         // MSH-2 == fields[0], MSH-3 == fields[1], ...
	v.segments["MSH"] = [][]string{stored}
}

func splitSegments(raw []byte) [][]byte {
	var out [][]byte
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\r' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}

// Path is a parsed field-path reference: SEG[(rep)]-F[(rep)].C.S
type Path struct {
	Segment       string
	SegmentRep    int
	Field         int
	FieldRep      int
	Component     int // 0 means "whole field"
	Subcomponent  int // 0 means "whole component"
}

// ParsePath parses the path grammar:
//
//	path := SEG ('(' N ')')? '-' F ('(' N ')')? ('.' C ('.' S)?)?
func ParsePath(path string) (Path, bool) {
	p := Path{SegmentRep: 0, FieldRep: 0}

	dashIdx := strings.IndexByte(path, '-')
	if dashIdx < 0 {
		return p, false
	}
	segPart := path[:dashIdx]
	rest := path[dashIdx+1:]

	seg, segRep, ok := parseNameAndRep(segPart)
	if !ok {
		return p, false
	}
	p.Segment = strings.ToUpper(seg)
	p.SegmentRep = segRep

	// split rest into field(.rep) and optional .C.S
	dotParts := strings.SplitN(rest, ".", 3)
	fieldPart := dotParts[0]
	field, fieldRep, ok := parseNameAndRep(fieldPart)
	if !ok {
		return p, false
	}
	f, err := strconv.Atoi(field)
	if err != nil {
		return p, false
	}
	p.Field = f
	p.FieldRep = fieldRep

	if len(dotParts) > 1 {
		c, err := strconv.Atoi(dotParts[1])
		if err != nil {
			return p, false
		}
		p.Component = c
	}
	if len(dotParts) > 2 {
		s, err := strconv.Atoi(dotParts[2])
		if err != nil {
			return p, false
		}
		p.Subcomponent = s
	}
	return p, true
}

// parseNameAndRep splits "NAME(N)" into ("NAME", N) or "NAME" into
// ("NAME", 0) when no repetition index is given.
func parseNameAndRep(s string) (string, int, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, 0, true
	}
	if !strings.HasSuffix(s, ")") {
		return "", 0, false
	}
	name := s[:open]
	repStr := s[open+1 : len(s)-1]
	rep, err := strconv.Atoi(repStr)
	if err != nil {
		return "", 0, false
	}
	return name, rep, true
}

// GetField resolves path against the parsed view, returning def if the
// path is malformed or does not resolve.
func (v *ParsedView) GetField(path string, def string) string {
	v.mu.Lock()
	if cached, ok := v.memo[path]; ok {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	v.ensureParsed()

	p, ok := ParsePath(path)
	if !ok {
		return def
	}
	val, ok := v.resolve(p)
	if !ok {
		val = def
	}

	v.mu.Lock()
	v.memo[path] = val
	v.mu.Unlock()
	return val
}

func (v *ParsedView) resolve(p Path) (string, bool) {
	reps := v.segments[p.Segment]
	if p.SegmentRep < 0 || p.SegmentRep >= len(reps) {
		return "", false
	}
	fields := reps[p.SegmentRep]

	fieldIdx := p.Field - 1
	if p.Segment == "MSH" {
		// MSH field numbering already accounts for the offset in
		// parseMSH's stored slice: stored[0] is MSH-1.
	}
	if fieldIdx < 0 || fieldIdx >= len(fields) {
		return "", false
	}
	fieldVal := fields[fieldIdx]

	if p.FieldRep > 0 {
		reps := strings.Split(fieldVal, string(v.delim.repetition))
		idx := p.FieldRep - 1
		if idx < 0 || idx >= len(reps) {
			return "", false
		}
		fieldVal = reps[idx]
	}

	if p.Component == 0 {
		return fieldVal, true
	}
	comps := strings.Split(fieldVal, string(v.delim.component))
	cIdx := p.Component - 1
	if cIdx < 0 || cIdx >= len(comps) {
		return "", false
	}
	compVal := comps[cIdx]

	if p.Subcomponent == 0 {
		return compVal, true
	}
	subs := strings.Split(compVal, string(v.delim.subcomponent))
	sIdx := p.Subcomponent - 1
	if sIdx < 0 || sIdx >= len(subs) {
		return "", false
	}
	return subs[sIdx], true
}

// GetSegment returns the rep-th repetition (0-based) of segment name,
// joined back on the field delimiter, or "" and false if absent.
func (v *ParsedView) GetSegment(name string, rep int) (string, bool) {
	v.ensureParsed()
	reps := v.segments[strings.ToUpper(name)]
	if rep < 0 || rep >= len(reps) {
		return "", false
	}
	return strings.Join(reps[rep], string(v.delim.field)), true
}

// GetSegments returns every repetition of segment name, joined back into
// pipe-delimited strings.
func (v *ParsedView) GetSegments(name string) []string {
	v.ensureParsed()
	reps := v.segments[strings.ToUpper(name)]
	out := make([]string, 0, len(reps))
	for _, r := range reps {
		out = append(out, strings.Join(r, string(v.delim.field)))
	}
	return out
}

// SetField returns new raw bytes with path set to value; the receiver's
// underlying bytes are never mutated (functional update).
func (v *ParsedView) SetField(path string, value string) ([]byte, error) {
	v.ensureParsed()
	p, ok := ParsePath(path)
	if !ok {
		return nil, errInvalidPath(path)
	}

	lines := splitSegments(v.raw)
	fieldSep := string(v.delim.field)

	count := -1
	for i, line := range lines {
		if len(line) < 3 || string(line[:3]) != p.Segment {
			continue
		}
		count++
		if count != p.SegmentRep {
			continue
		}
		newLine := setFieldInLine(line, p, value, v.delim)
		out := make([]byte, 0, len(v.raw)+len(value))
		for j, l := range lines {
			if j == i {
				out = append(out, newLine...)
			} else {
				out = append(out, l...)
			}
			if j < len(lines)-1 {
				out = append(out, '\r')
			}
		}
		return out, nil
	}
	return nil, errInvalidPath(path)
}

func setFieldInLine(line []byte, p Path, value string, d delimiters) []byte {
	if p.Segment == "MSH" {
		// MSH-1 is the separator byte itself and cannot be reassigned via
		// this path without re-parsing the whole segment; treat MSH-2+ the
		// same as any other field, offset by the synthetic stored[0].
		rest := string(line[4:])
		fields := strings.Split(rest, string(d.field))
		idx := p.Field - 2 // stored[0]=MSH-1=separator; fields[0]=MSH-2
		if idx < 0 || idx >= len(fields) {
			return line
		}
		fields[idx] = applyComponent(fields[idx], p, value, d)
		return append(line[:4:4], []byte(strings.Join(fields, string(d.field)))...)
	}

	rest := string(line[4:])
	fields := strings.Split(rest, string(d.field))
	idx := p.Field - 1
	if idx < 0 {
		return line
	}
	for len(fields) <= idx {
		fields = append(fields, "")
	}
	fields[idx] = applyComponent(fields[idx], p, value, d)
	return append(line[:4:4], []byte(strings.Join(fields, string(d.field)))...)
}

func applyComponent(fieldVal string, p Path, value string, d delimiters) string {
	if p.Component == 0 {
		return value
	}
	comps := strings.Split(fieldVal, string(d.component))
	cIdx := p.Component - 1
	for len(comps) <= cIdx {
		comps = append(comps, "")
	}
	if p.Subcomponent == 0 {
		comps[cIdx] = value
		return strings.Join(comps, string(d.component))
	}
	subs := strings.Split(comps[cIdx], string(d.subcomponent))
	sIdx := p.Subcomponent - 1
	for len(subs) <= sIdx {
		subs = append(subs, "")
	}
	subs[sIdx] = value
	comps[cIdx] = strings.Join(subs, string(d.subcomponent))
	return strings.Join(comps, string(d.component))
}

type pathError string

func (e pathError) Error() string { return "hl7: invalid path " + string(e) }

func errInvalidPath(path string) error { return pathError(path) }

// Convenience accessors.

// MessageType composes MSH-9.1 + "_" + MSH-9.2 when both are present,
// else just MSH-9.1.
func (v *ParsedView) MessageType() string {
	trigger := v.GetField("MSH-9.1", "")
	event := v.GetField("MSH-9.2", "")
	if trigger == "" {
		return ""
	}
	if event == "" {
		return trigger
	}
	return trigger + "_" + event
}

func (v *ParsedView) MessageControlID() string   { return v.GetField("MSH-10", "") }
func (v *ParsedView) SendingApplication() string { return v.GetField("MSH-3", "") }
func (v *ParsedView) SendingFacility() string    { return v.GetField("MSH-4", "") }
func (v *ParsedView) ReceivingApplication() string {
	return v.GetField("MSH-5", "")
}
func (v *ParsedView) ReceivingFacility() string { return v.GetField("MSH-6", "") }
func (v *ParsedView) PatientID() string         { return v.GetField("PID-3.1", "") }
func (v *ParsedView) PatientName() string       { return v.GetField("PID-5", "") }
