// Package checksum implements the IEEE CRC-32 used to guard every index
// record and data chunk written by the sample store.
package checksum

import "hash/crc32"

// CRC32 is a stateful IEEE CRC-32 accumulator. The zero value starts a
// fresh checksum; Reset returns an in-use accumulator to that same state.
type CRC32 struct {
	state uint32
}

// New returns a CRC32 ready for Append.
func New() *CRC32 {
	c := &CRC32{}
	c.Reset()
	return c
}

// Reset sets the accumulator back to its initial state.
func (c *CRC32) Reset() {
	c.state = 0
}

// Append folds bytes into the running checksum. crc32.Update already
// applies the IEEE pre/post inversion internally, so the accumulator
// itself stays in the external (non-inverted) domain between calls.
func (c *CRC32) Append(p []byte) {
	c.state = crc32.Update(c.state, crc32.IEEETable, p)
}

// Get returns the finalized checksum for everything appended so far.
// Does not reset the accumulator.
func (c *CRC32) Get() uint32 {
	return c.state
}

// Calculate resets, appends p, and returns the finalized checksum.
func (c *CRC32) Calculate(p []byte) uint32 {
	c.Reset()
	c.Append(p)
	return c.Get()
}

// IEEE is a convenience one-shot checksum equivalent to crc32.ChecksumIEEE.
func IEEE(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}
