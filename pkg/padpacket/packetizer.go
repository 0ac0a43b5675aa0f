// Package padpacket implements the PAD Packetizer: it packs a queue of
// Data Groups into fixed-size PAD frames with Contents Indicator (CI)
// lists, sub-field length selection, continuation across frames, and
// end-markers.
package padpacket

import (
	"fmt"

	"padenc/pkg/datagroup"
)

// subfieldLens are the legal variable X-PAD sub-field lengths.
var subfieldLens = [8]int{4, 6, 8, 12, 16, 24, 32, 48}

const (
	fpadLen       = 2
	shortPadLen   = 6
	varsizePadMin = 8
	varsizePadMax = 196

	// DGLIAppType is the application type of a Data Group Length Indicator.
	DGLIAppType = datagroup.DGLIAppType
)

// CheckPADLen reports whether len is a legal requested PAD length.
func CheckPADLen(length int) bool {
	return length == shortPadLen || (length >= varsizePadMin && length <= varsizePadMax)
}

// Packetizer packs a FIFO queue of Data Groups into fixed-size PAD frames.
type Packetizer struct {
	xpadSizeMax int
	shortXPAD   bool
	maxCIs      int

	queue []*datagroup.DataGroup

	xpadSize      int
	subfields     []byte
	subfieldsSize int

	ciType    [4]int
	ciLenIdx  [4]int
	usedCIs   int

	lastCIType int
	lastCISize int
}

// New builds a Packetizer for the given requested PAD length. It returns an
// error if padLen does not satisfy CheckPADLen; the scheduler treats an
// invalid requested length as fatal.
func New(padLen int) (*Packetizer, error) {
	if !CheckPADLen(padLen) {
		return nil, fmt.Errorf("padpacket: invalid PAD length %d (allowed: 6, or 8 to 196)", padLen)
	}
	p := &Packetizer{
		xpadSizeMax: padLen - fpadLen,
		shortXPAD:   padLen == shortPadLen,
		maxCIs:      4,
		lastCIType:  -1,
	}
	if p.shortXPAD {
		p.maxCIs = 1
	}
	p.subfields = make([]byte, 4*48)
	p.resetPAD()
	return p, nil
}

// AddDG queues a Data Group; prepend inserts it at the head of the queue so
// it overtakes whatever is already pending.
func (p *Packetizer) AddDG(dg *datagroup.DataGroup, prepend bool) {
	if prepend {
		p.queue = append([]*datagroup.DataGroup{dg}, p.queue...)
	} else {
		p.queue = append(p.queue, dg)
	}
}

// AddDGs queues a batch of Data Groups as a unit, preserving their relative
// order whether prepended or appended.
func (p *Packetizer) AddDGs(dgs []*datagroup.DataGroup, prepend bool) {
	if prepend {
		p.queue = append(append([]*datagroup.DataGroup{}, dgs...), p.queue...)
	} else {
		p.queue = append(p.queue, dgs...)
	}
}

// QueueFilled reports whether any Data Group is pending.
func (p *Packetizer) QueueFilled() bool {
	return len(p.queue) > 0
}

// QueueContainsDG reports whether a Data Group with the given start
// application type is still pending, so callers can avoid enqueueing an
// overlapping update.
func (p *Packetizer) QueueContainsDG(appTypeStart int) bool {
	for _, dg := range p.queue {
		if dg.AppTypeStart == appTypeStart {
			return true
		}
	}
	return false
}

// GetNextPAD drains the DG queue into exactly one PAD frame. If outputXPAD
// is false, an empty F-PAD-only frame is produced instead (used for
// X-PAD-every-N gating), leaving the queue untouched.
func (p *Packetizer) GetNextPAD(outputXPAD bool) []byte {
	if !outputXPAD {
		return p.flushPAD()
	}
	return p.getPAD()
}

func (p *Packetizer) getPAD() []byte {
	flushable := false
	for !flushable && len(p.queue) > 0 {
		dg := p.queue[0]
		for !flushable && dg.Available() > 0 {
			flushable = p.appendDG(dg)
		}
		if dg.Available() == 0 {
			p.queue = p.queue[1:]
		}
	}
	return p.flushPAD()
}

// addCINeededBytes returns the number of additional X-PAD bytes the next CI
// entry would need: the end marker is added on the first CI and removed
// (implicitly, by the final CI taking its place) on the last legal one.
func (p *Packetizer) addCINeededBytes() int {
	if !p.shortXPAD && p.usedCIs == 0 {
		return 2
	}
	if !p.shortXPAD && p.usedCIs == p.maxCIs-1 {
		return 0
	}
	return 1
}

func (p *Packetizer) addCI(appType, lenIndex int) {
	p.ciType[p.usedCIs] = appType
	p.ciLenIdx[p.usedCIs] = lenIndex
	p.xpadSize += p.addCINeededBytes()
	p.usedCIs++
}

// optimalSubFieldSizeIndex picks the smallest sub-field able to hold all
// available bytes, then backs off if the remaining X-PAD capacity cannot
// fit it, then backs off once more if doing so would strictly reduce
// wasted padding by at least one minimum sub-field's worth.
func (p *Packetizer) optimalSubFieldSizeIndex(available int) int {
	lenIndex := 0
	for lenIndex+1 < 8 && subfieldLens[lenIndex] < available {
		lenIndex++
	}
	for lenIndex-1 >= 0 && subfieldLens[lenIndex]+p.addCINeededBytes() > p.xpadSizeMax-p.xpadSize {
		lenIndex--
	}
	if lenIndex-1 >= 0 && subfieldLens[lenIndex]-available >= subfieldLens[0] {
		lenIndex--
	}
	return lenIndex
}

func (p *Packetizer) writeDGToSubField(dg *datagroup.DataGroup, length int) int {
	appType, contType := dg.Write(p.subfields[p.subfieldsSize:p.subfieldsSize+length], length)
	p.lastCIType = contType
	p.subfieldsSize += length
	p.xpadSize += length
	return appType
}

// appendDG appends as much of dg as fits in the current frame, returning
// true when the frame must now be flushed.
func (p *Packetizer) appendDG(dg *datagroup.DataGroup) bool {
	if p.usedCIs == 0 &&
		p.lastCIType != -1 &&
		p.lastCIType == dg.AppTypeCont &&
		(p.shortXPAD ||
			(p.lastCISize >= p.xpadSizeMax-p.maxCIs &&
				dg.Available() >= p.lastCISize-p.maxCIs)) {
		p.appendDGWithoutCI(dg)
		return true
	}

	p.appendDGWithCI(dg)
	if p.usedCIs == p.maxCIs || subfieldLens[0]+p.addCINeededBytes() > p.xpadSizeMax-p.xpadSize {
		return true
	}
	return false
}

func (p *Packetizer) appendDGWithCI(dg *datagroup.DataGroup) {
	lenIndex := 0
	lenSize := 3
	if !p.shortXPAD {
		lenIndex = p.optimalSubFieldSizeIndex(dg.Available())
		lenSize = subfieldLens[lenIndex]
	}
	appType := p.writeDGToSubField(dg, lenSize)
	p.addCI(appType, lenIndex)
}

func (p *Packetizer) appendDGWithoutCI(dg *datagroup.DataGroup) {
	p.writeDGToSubField(dg, p.lastCISize)
}

func (p *Packetizer) resetPAD() {
	p.xpadSize = 0
	p.subfieldsSize = 0
	p.usedCIs = 0
}

func (p *Packetizer) flushPAD() []byte {
	result := make([]byte, p.xpadSizeMax+fpadLen+1)
	offset := p.xpadSizeMax

	if p.subfieldsSize > 0 {
		if p.usedCIs > 0 {
			for i := 0; i < p.usedCIs; i++ {
				offset--
				lenIndex := p.ciLenIdx[i]
				if p.shortXPAD {
					lenIndex = 0
				}
				result[offset] = byte(lenIndex<<5) | byte(p.ciType[i])
			}
			if p.usedCIs < p.maxCIs {
				offset--
				result[offset] = 0x00
			}
		}
		for off := 0; off < p.subfieldsSize; off++ {
			offset--
			result[offset] = p.subfields[off]
		}
	} else {
		p.lastCIType = -1
	}

	for i := 0; i < offset; i++ {
		result[i] = 0x00
	}

	if p.subfieldsSize > 0 {
		if p.shortXPAD {
			result[p.xpadSizeMax+0] = 0x10
		} else {
			result[p.xpadSizeMax+0] = 0x20
		}
		if p.usedCIs > 0 {
			result[p.xpadSizeMax+1] = 0x02
		} else {
			result[p.xpadSizeMax+1] = 0x00
		}
	} else {
		result[p.xpadSizeMax+0] = 0x00
		result[p.xpadSizeMax+1] = 0x00
	}

	result[p.xpadSizeMax+fpadLen] = byte(p.xpadSize + fpadLen)

	p.lastCISize = p.xpadSize
	p.resetPAD()
	return result
}

// CreateDGLI builds the Data Group Length Indicator DG preceding an MSC
// Data Group.
func CreateDGLI(length int) *datagroup.DataGroup {
	return datagroup.CreateDGLI(length)
}
