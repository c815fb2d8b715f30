package mt

// FCS is the frame check sequence: XOR of every byte, starting from zero.
// In an envelope it covers Len, Cmd0, Cmd1 and the payload, not the SOF.
func FCS(data []byte) uint8 {
	var fcs uint8
	for _, b := range data {
		fcs ^= b
	}
	return fcs
}
