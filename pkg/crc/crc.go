// Package crc computes the ITU-T CRC-16 used to protect Data Group payloads.
package crc

import "github.com/howeyc/crc16"

// Compute returns the ITU-T CRC-16 (polynomial 0x1021, init 0xFFFF) over
// data, bit-complemented as the DAB standard requires.
func Compute(data []byte) uint16 {
	return ^crc16.ChecksumCCITTFalse(data)
}

// Append appends the big-endian CRC-16 of data to dst and returns the result.
func Append(dst []byte) []byte {
	c := Compute(dst)
	return append(dst, byte(c>>8), byte(c))
}
