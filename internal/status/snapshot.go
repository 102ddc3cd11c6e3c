// internal/status/snapshot.go
package status

// Snapshot represents exactly what the mirror is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastFaultCode  uint16
	SecondsOffline uint16
	FramesAccepted uint16
	FramesRejected uint16
	QueueDepth     uint16
	TunnelState    uint16
}

// Healthy reports whether the snapshot needs no periodic refresh.
func (s Snapshot) Healthy() bool { return s.Health == HealthOK }

// Clamp16 converts a counter to a slot value without wrapping.
func Clamp16(v uint64) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
