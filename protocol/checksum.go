package protocol

// Sum8 returns the low byte of init plus the additive sum of data.
func Sum8(init byte, data ...byte) byte {
	sum := init
	for _, b := range data {
		sum += b
	}
	return sum
}

// ChecksumRule computes the checksum byte of a configuration command from
// its code and field block. The rule differs per command.
type ChecksumRule func(cmd Command, fields [FieldSize]byte) byte

// FixedChecksum ignores the fields and always yields v.
func FixedChecksum(v byte) ChecksumRule {
	return func(Command, [FieldSize]byte) byte {
		return v
	}
}

// AdditiveChecksum is the command code plus every field byte, mod 256.
func AdditiveChecksum(cmd Command, fields [FieldSize]byte) byte {
	return Sum8(byte(cmd), fields[:]...)
}

// PageSumChecksum is (total + (total >> 8) + 6) & 0xFF computed on the full
// page total, exactly as the device firmware expects it.
func PageSumChecksum(total uint32) ChecksumRule {
	return func(Command, [FieldSize]byte) byte {
		return byte((total + (total >> 8) + uint32(CmdPageSum)) & 0xFF)
	}
}

// PageChecksum is the additive sum of a page mod 256.
func PageChecksum(page []byte) byte {
	return Sum8(0, page...)
}

// DataFrameChecksum folds the page index into the page checksum.
func DataFrameChecksum(pageSum byte, index uint16) byte {
	return Sum8(pageSum, byte(index), byte(index>>8))
}
