// Package datagroup implements the Data Group: an owned byte buffer plus
// the application-type pair a PAD Packetizer needs to frame it.
package datagroup

import "padenc/pkg/crc"

// DataGroup is a byte buffer with an incremental writer. AppTypeStart is the
// Contents Indicator application type to record when a PAD sub-field begins
// this DG; AppTypeCont is the type to record for any continuation.
type DataGroup struct {
	buf         []byte
	written     int
	AppTypeStart int
	AppTypeCont  int
}

// New allocates a Data Group with payloadLen bytes of zeroed payload and the
// given application-type pair.
func New(payloadLen, appTypeStart, appTypeCont int) *DataGroup {
	return &DataGroup{
		buf:          make([]byte, payloadLen),
		AppTypeStart: appTypeStart,
		AppTypeCont:  appTypeCont,
	}
}

// NewFromBytes wraps an already-built payload (the caller is responsible for
// appending any CRC before calling this).
func NewFromBytes(payload []byte, appTypeStart, appTypeCont int) *DataGroup {
	return &DataGroup{buf: payload, AppTypeStart: appTypeStart, AppTypeCont: appTypeCont}
}

// Payload exposes the full, fixed buffer — callers assembling a DG
// incrementally (see mot's packMscDG) use this to fill bytes before the CRC is
// appended.
func (dg *DataGroup) Payload() []byte { return dg.buf }

// AppendCRC appends the 16-bit ITU-T CRC over the current buffer contents.
func (dg *DataGroup) AppendCRC() {
	dg.buf = crc.Append(dg.buf)
}

// Len returns the total buffer length.
func (dg *DataGroup) Len() int { return len(dg.buf) }

// Available returns the number of bytes not yet written to a PAD frame.
func (dg *DataGroup) Available() int { return len(dg.buf) - dg.written }

// Write copies up to n bytes starting at the write cursor into dst[:n],
// zero-padding any remainder of dst up to n when the DG runs out of bytes.
// It returns the application type that should be recorded in the CI for
// this write, and contType which is AppTypeCont if more bytes remain after
// this write, or -1 if the DG is now fully written (so the caller does not
// pair an unrelated future DG with this one's continuation type).
func (dg *DataGroup) Write(dst []byte, n int) (appType int, contType int) {
	wasEmpty := dg.written == 0
	avail := dg.Available()
	copyLen := n
	if copyLen > avail {
		copyLen = avail
	}
	copy(dst[:copyLen], dg.buf[dg.written:dg.written+copyLen])
	for i := copyLen; i < n; i++ {
		dst[i] = 0
	}
	dg.written += copyLen

	if wasEmpty {
		appType = dg.AppTypeStart
	} else {
		appType = dg.AppTypeCont
	}

	if dg.Available() == 0 {
		contType = -1
	} else {
		contType = dg.AppTypeCont
	}
	return appType, contType
}

// DGLIAppType is the application type used by Data Group Length Indicators,
// both when a DGLI starts and when it continues in a later sub-field.
const DGLIAppType = 1

// CreateDGLI builds the 2-byte Data Group Length Indicator DG preceding an
// MSC Data Group: 14 bits of length plus a 16-bit CRC.
func CreateDGLI(length int) *DataGroup {
	dg := New(2, DGLIAppType, DGLIAppType)
	buf := dg.Payload()
	buf[0] = byte((length >> 8) & 0x3F)
	buf[1] = byte(length & 0xFF)
	dg.AppendCRC()
	return dg
}
