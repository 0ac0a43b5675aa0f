// Package dls implements the DLS (Dynamic Label Segment) encoder: label
// parsing, DL Plus tag handling, toggle-bit state tracking, and
// 16-byte-segment encoding.
package dls

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"padenc/pkg/charset"
	"padenc/pkg/datagroup"
	"padenc/pkg/padpacket"
)

// DAB charsets from ETSI TS 101 756.
const (
	CharsetCompleteEBULatin = 0
	CharsetEBULatinCyGr     = 1
	CharsetEBULatinArHeCyGr = 2
	CharsetISOLatinAlpha2   = 3
	CharsetUCS2BE           = 6
	CharsetUTF8             = 15
)

const (
	maxDLS            = 128 // chars
	segLenPrefix      = 2
	segLenCharMax     = 16
	appTypeStart      = 2
	appTypeCont       = 3
	dlsCmdRemoveLabel = 0b0001
	dlsCmdDLPlus      = 0b0010
	dlPlusCmdTags     = 0b0000

	// AppTypeStart is the X-PAD application type DLS Data Groups start
	// with; callers use it with Packetizer.QueueContainsDG to avoid
	// enqueueing an overlapping label update.
	AppTypeStart = appTypeStart

	paramsOpen  = "##### parameters { #####"
	paramsClose = "##### parameters } #####"

	// RequestRereadSuffix is appended to a label file's path to form the
	// sidecar re-read request filename.
	RequestRereadSuffix = ".REQUEST_DLS_REREAD"
)

// Tag is a DL Plus tag: three 7-bit fields.
type Tag struct {
	ContentType  int
	StartMarker  int
	LengthMarker int
}

func (t Tag) equal(o Tag) bool {
	return t.ContentType == o.ContentType && t.StartMarker == o.StartMarker && t.LengthMarker == o.LengthMarker
}

// State is the parsed label plus its DL Plus metadata.
type State struct {
	Text              string
	DLPlusEnabled     bool
	DLPlusItemToggle  bool
	DLPlusItemRunning bool
	Tags              []Tag
}

// equal implements DL_STATE's custom equality: toggle/running/tags are only
// compared when DL Plus is enabled.
func (s State) equal(o State) bool {
	if s.Text != o.Text {
		return false
	}
	if s.DLPlusEnabled != o.DLPlusEnabled {
		return false
	}
	if s.DLPlusEnabled {
		if s.DLPlusItemToggle != o.DLPlusItemToggle || s.DLPlusItemRunning != o.DLPlusItemRunning {
			return false
		}
		if len(s.Tags) != len(o.Tags) {
			return false
		}
		for i := range s.Tags {
			if !s.Tags[i].equal(o.Tags[i]) {
				return false
			}
		}
	}
	return true
}

// Params configures how a label file is parsed.
type Params struct {
	RawDLS    bool
	Charset   int
	RemoveDLS bool
}

// Encoder tracks the toggle bit and the previously transmitted label state
// across calls to EncodeLabel.
type Encoder struct {
	converter *charset.Converter
	toggle    bool
	prevState State
	hasPrev   bool
}

// NewEncoder returns an Encoder with the toggle bit at its initial value.
func NewEncoder() *Encoder {
	return &Encoder{converter: charset.NewConverter()}
}

func parseDLParamBool(key, value string) (bool, bool) {
	switch strings.TrimSpace(value) {
	case "0":
		return false, true
	case "1":
		return true, true
	default:
		fmt.Fprintf(os.Stderr, "padenc: DL parameter %q has unsupported value %q - ignored\n", key, value)
		return false, false
	}
}

func parseDLParamTagInt(key, value string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v < 0x00 || v > 0x7F {
		fmt.Fprintf(os.Stderr, "padenc: DL Plus tag parameter %q %q out of range - ignored\n", key, value)
		return 0, false
	}
	return v, true
}

// parseDLParams reads parameter lines up to the closing marker, mutating
// state in place. It returns true if the closing marker was found.
func parseDLParams(scanner *bufio.Scanner, state *State) bool {
	for scanner.Scan() {
		line := scanner.Text()
		if line == paramsClose {
			return true
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			fmt.Fprintf(os.Stderr, "padenc: DL parameter line %q without separator - ignored\n", line)
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := line[idx+1:]

		switch key {
		case "DL_PLUS":
			if v, ok := parseDLParamBool(key, value); ok {
				state.DLPlusEnabled = v
			}
		case "DL_PLUS_ITEM_TOGGLE":
			if v, ok := parseDLParamBool(key, value); ok {
				state.DLPlusItemToggle = v
			}
		case "DL_PLUS_ITEM_RUNNING":
			if v, ok := parseDLParamBool(key, value); ok {
				state.DLPlusItemRunning = v
			}
		case "DL_PLUS_TAG":
			if len(state.Tags) == 4 {
				fmt.Fprintln(os.Stderr, "padenc: DL Plus tag ignored, as already four tags present")
				continue
			}
			parts := strings.Fields(value)
			if len(parts) != 3 {
				fmt.Fprintf(os.Stderr, "padenc: DL Plus tag value %q does not have three parts - ignored\n", value)
				continue
			}
			ct, okCT := parseDLParamTagInt("content_type", parts[0])
			sm, okSM := parseDLParamTagInt("start_marker", parts[1])
			lm, okLM := parseDLParamTagInt("length_marker", parts[2])
			if okCT && okSM && okLM {
				state.Tags = append(state.Tags, Tag{ContentType: ct, StartMarker: sm, LengthMarker: lm})
			}
		default:
			fmt.Fprintf(os.Stderr, "padenc: DL parameter %q unknown - ignored\n", key)
		}
	}
	return false
}

// ParseLabel reads a label file line by line, applying the optional
// parameters block and UTF-8-to-EBU-Latin transcoding, and returns the
// resulting State truncated to maxDLS bytes.
func (e *Encoder) ParseLabel(path string, params Params) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("dls: open %s: %w", path, err)
	}
	defer f.Close()

	var state State
	var lines []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == paramsOpen {
			if !parseDLParams(scanner, &state) {
				fmt.Fprintln(os.Stderr, "padenc: no param closing tag, so the DLS text will be empty")
			}
			continue
		}
		if !params.RawDLS && params.Charset == CharsetUTF8 {
			lines = append(lines, string(e.converter.Convert(line)))
		} else {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return State{}, fmt.Errorf("dls: read %s: %w", path, err)
	}

	var sb strings.Builder
	for i, line := range lines {
		if i != 0 {
			if params.Charset == CharsetUCS2BE {
				sb.WriteByte(0)
				sb.WriteByte('\n')
			} else {
				sb.WriteByte('\n')
			}
		}
		if params.Charset == CharsetUCS2BE && len(line)%2 != 0 {
			line = line[:len(line)-1]
		}
		sb.WriteString(line)
	}

	text := sb.String()
	if len(text) > maxDLS {
		fmt.Fprintf(os.Stderr, "padenc: oversized DLS text (%d chars) had to be shortened\n", len(text))
		text = text[:maxDLS]
	}
	state.Text = text
	return state, nil
}

// EncodeLabel parses dlsFile (and, if set, itemStateFile for DL Plus
// item toggle/running override), updates the toggle bit on a changed
// state, and prepends the resulting Data Groups onto packetizer so they
// overtake any pending slide segments.
func (e *Encoder) EncodeLabel(dlsFile, itemStateFile string, params Params, packetizer *padpacket.Packetizer) error {
	state, err := e.ParseLabel(dlsFile, params)
	if err != nil {
		return err
	}

	if itemStateFile != "" {
		itemState, err := e.ParseLabel(itemStateFile, Params{})
		if err != nil {
			return err
		}
		state.DLPlusEnabled = true
		state.DLPlusItemToggle = itemState.DLPlusItemToggle
		state.DLPlusItemRunning = itemState.DLPlusItemRunning
	}

	if state.DLPlusEnabled && len(state.Tags) == 0 {
		state.Tags = append(state.Tags, Tag{})
	}

	isNew := !e.hasPrev || !state.equal(e.prevState)

	var removeLabelDG *datagroup.DataGroup
	if isNew {
		if params.RemoveDLS {
			removeLabelDG = e.createDynamicLabelCommand(dlsCmdRemoveLabel)
		}
		e.toggle = !e.toggle
		e.prevState = state
		e.hasPrev = true
	}

	wireCharset := CharsetCompleteEBULatin
	if params.RawDLS {
		wireCharset = params.Charset
	}
	e.prependDLDGs(state, wireCharset, packetizer)

	if removeLabelDG != nil {
		packetizer.AddDG(removeLabelDG, true)
	}
	return nil
}

func (e *Encoder) createDynamicLabelCommand(command byte) *datagroup.DataGroup {
	dg := datagroup.New(2, appTypeStart, appTypeCont)
	buf := dg.Payload()

	b0 := byte(0)
	if e.toggle {
		b0 |= 1 << 7
	}
	b0 |= (1 << 6) | (1 << 5) | (1 << 4)
	b0 |= command
	buf[0] = b0
	buf[1] = 0

	dg.AppendCRC()
	return dg
}

func (e *Encoder) createDynamicLabelPlus(state State) *datagroup.DataGroup {
	tagsSize := len(state.Tags)
	lenField := 1 + 3*tagsSize
	dg := datagroup.New(2+lenField, appTypeStart, appTypeCont)
	buf := dg.Payload()

	b0 := byte(0)
	if e.toggle {
		b0 |= 1 << 7
	}
	b0 |= (1 << 6) | (1 << 5) | (1 << 4) | dlsCmdDLPlus
	buf[0] = b0

	b1 := byte(0)
	if e.toggle {
		b1 |= 1 << 7
	}
	b1 |= byte(lenField - 1)
	buf[1] = b1

	b2 := byte(dlPlusCmdTags << 4)
	if state.DLPlusItemToggle {
		b2 |= 1 << 3
	}
	if state.DLPlusItemRunning {
		b2 |= 1 << 2
	}
	b2 |= byte(tagsSize - 1)
	buf[2] = b2

	for i, tag := range state.Tags {
		buf[3+3*i] = byte(tag.ContentType & 0x7F)
		buf[4+3*i] = byte(tag.StartMarker & 0x7F)
		buf[5+3*i] = byte(tag.LengthMarker & 0x7F)
	}

	dg.AppendCRC()
	return dg
}

func dlsCount(text string) int {
	n := len(text)
	count := n / segLenCharMax
	if n%segLenCharMax != 0 {
		count++
	}
	return count
}

func (e *Encoder) dlsGet(text string, wireCharset int, segIndex int) *datagroup.DataGroup {
	firstSeg := segIndex == 0
	lastSeg := segIndex == dlsCount(text)-1

	offset := segIndex * segLenCharMax
	segLen := len(text) - offset
	if segLen > segLenCharMax {
		segLen = segLenCharMax
	}

	dg := datagroup.New(segLenPrefix+segLen, appTypeStart, appTypeCont)
	buf := dg.Payload()

	b0 := byte(0)
	if e.toggle {
		b0 |= 1 << 7
	}
	if firstSeg {
		b0 |= 1 << 6
	}
	if lastSeg {
		b0 |= 1 << 5
	}
	b0 |= byte(segLen - 1)
	buf[0] = b0

	if firstSeg {
		buf[1] = byte(wireCharset) << 4
	} else {
		buf[1] = byte(segIndex) << 4
	}

	copy(buf[segLenPrefix:], text[offset:offset+segLen])

	dg.AppendCRC()
	return dg
}

func (e *Encoder) prependDLDGs(state State, wireCharset int, packetizer *padpacket.Packetizer) {
	segCount := dlsCount(state.Text)
	segs := make([]*datagroup.DataGroup, 0, segCount+1)
	for i := 0; i < segCount; i++ {
		segs = append(segs, e.dlsGet(state.Text, wireCharset, i))
	}
	if state.DLPlusEnabled {
		segs = append(segs, e.createDynamicLabelPlus(state))
	}
	packetizer.AddDGs(segs, true)
}
