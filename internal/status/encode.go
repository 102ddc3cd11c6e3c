// internal/status/encode.go
package status

// liveSlots lists the snapshot slots in block order.
var liveSlots = []int{
	SlotHealthCode,
	SlotLastFaultCode,
	SlotSecondsOffline,
	SlotFramesAccepted,
	SlotFramesRejected,
	SlotQueueDepth,
	SlotTunnelState,
}

// LiveSlots returns the slot indices Encode fills.
func LiveSlots() []int { return append([]int(nil), liveSlots...) }

// Encode converts a Snapshot into a full status block with the name
// slots left blank.
// Layout is protocol-locked.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerDevice)

	regs[SlotHealthCode] = s.Health
	regs[SlotLastFaultCode] = s.LastFaultCode
	regs[SlotSecondsOffline] = s.SecondsOffline
	regs[SlotFramesAccepted] = s.FramesAccepted
	regs[SlotFramesRejected] = s.FramesRejected
	regs[SlotQueueDepth] = s.QueueDepth
	regs[SlotTunnelState] = s.TunnelState

	return regs
}

// EncodeDeviceName packs up to 16 ASCII characters into 8 registers.
// Each register stores two ASCII bytes in big-endian order.
func EncodeDeviceName(name string) []uint16 {
	out := make([]uint16, SlotDeviceNameSlots)

	b := []byte(name)
	if len(b) > DeviceNameMaxChars {
		b = b[:DeviceNameMaxChars]
	}

	// sanitize to printable ASCII
	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < DeviceNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}

// EncodeFull is Encode plus the device name at the end of the block.
func EncodeFull(s Snapshot, name []uint16) []uint16 {
	regs := Encode(s)
	for i := 0; i < SlotDeviceNameSlots && i < len(name); i++ {
		regs[SlotDeviceNameStart+i] = name[i]
	}
	return regs
}
