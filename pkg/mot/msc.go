package mot

import (
	"padenc/pkg/datagroup"
	"padenc/pkg/padpacket"
	"padenc/pkg/tools"
)

// MAXSEGLEN is the maximum MSC Data Group body segment length in bytes.
const MAXSEGLEN = 1013

// MaxSlideSizeBytes is the Simple Profile slide size ceiling (TS 101 499
// v3.1.1, ch. 9.1.2).
const MaxSlideSizeBytes = 51200

// X-PAD application types shared by MOT header and body Data Groups; the
// receiver distinguishes header from body via the MSC Data Group's own
// dgtype field, not via the PAD Contents Indicator.
const (
	MOTStartAppType = 12
	MOTContAppType  = 13
)

const (
	dgTypeHeader = 3
	dgTypeBody   = 4
)

// Segmenter tracks the independent continuity-index counters for the
// header and body MSC Data Group streams of one slide channel.
type Segmenter struct {
	cindexHeader int
	cindexBody   int
}

// NewSegmenter returns a Segmenter with both continuity counters at zero.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// mscHeader mirrors the MSC Data Group session header fields (§4.4).
type mscHeader struct {
	dgtype int
	cindex int
	last   int
	segnum int
	tid    int
}

func packMscDG(h mscHeader, segdata []byte) *datagroup.DataGroup {
	dg := datagroup.New(9+len(segdata), MOTStartAppType, MOTContAppType)
	b := dg.Payload()

	b[0] = byte((0 << 7) | (1 << 6) | (1 << 5) | (1 << 4) | (h.dgtype & 0x0F))
	b[1] = byte((h.cindex<<4)&0xF0 | 0)
	b[2] = byte((h.last<<7)&0x80) | byte((h.segnum>>8)&0x7F)
	b[3] = byte(h.segnum & 0xFF)
	b[4] = byte((0 << 5) | (1 << 4) | 2)
	b[5] = byte((h.tid >> 8) & 0xFF)
	b[6] = byte(h.tid & 0xFF)
	b[7] = byte((0 << 5) | ((len(segdata) >> 8) & 0x1F))
	b[8] = byte(len(segdata) & 0xFF)
	copy(b[9:], segdata)

	dg.AppendCRC()
	return dg
}

// PackSlide segments header and body bytes into MSC Data Groups (one DGLI
// + one header DG, then one DGLI + one body DG per MAXSEGLEN-sized
// segment), ready to be queued on the PAD Packetizer in order.
func (s *Segmenter) PackSlide(fidx int, header []byte, body []byte) []*datagroup.DataGroup {
	var out []*datagroup.DataGroup

	headerDG := packMscDG(mscHeader{
		dgtype: dgTypeHeader,
		cindex: s.cindexHeader,
		last:   1,
		segnum: 0,
		tid:    fidx,
	}, header)
	s.cindexHeader = (s.cindexHeader + 1) % 16
	out = append(out, padpacket.CreateDGLI(headerDG.Len()), headerDG)

	if len(body) == 0 {
		return out
	}

	nseg := int(tools.DivCeil(uint64(len(body)), MAXSEGLEN))
	for i := 0; i < nseg; i++ {
		start := i * MAXSEGLEN
		end := start + MAXSEGLEN
		if end > len(body) {
			end = len(body)
		}
		last := 0
		if i == nseg-1 {
			last = 1
		}
		bodyDG := packMscDG(mscHeader{
			dgtype: dgTypeBody,
			cindex: s.cindexBody,
			last:   last,
			segnum: i,
			tid:    fidx,
		}, body[start:end])
		s.cindexBody = (s.cindexBody + 1) % 16
		out = append(out, padpacket.CreateDGLI(bodyDG.Len()), bodyDG)
	}
	return out
}
