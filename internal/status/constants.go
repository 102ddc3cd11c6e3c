// internal/status/constants.go
package status

// Daemon Status Block layout constants.
// These values define the protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per daemon.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the daemon health state.
const SlotHealthCode = 0

// SlotLastFaultCode holds the code of the most recent fault.
const SlotLastFaultCode = 1

// SlotSecondsOffline holds how long (in seconds) the panel has shown the
// offline template.
const SlotSecondsOffline = 2

// SlotFramesAccepted holds the accepted-frame counter, modulo 65536.
const SlotFramesAccepted = 3

// SlotFramesRejected holds the rejected-frame counter, modulo 65536.
const SlotFramesRejected = 4

// SlotQueueDepth holds the display queue length.
const SlotQueueDepth = 5

// SlotTunnelState holds 0 while idle, 1 while a command runs.
const SlotTunnelState = 6

// ---- RESERVED RANGE ----

// Slots 7–11 are reserved for future use.
const SlotReservedStart = 7
const SlotReservedEnd = 11

// ---- DEVICE NAME ----

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameStart is the first slot used for the device name.
// Device name is always placed at the END of the status block.
const SlotDeviceNameStart = SlotsPerDevice - SlotDeviceNameSlots

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown represents the boot state, before the first tick.
const HealthUnknown uint16 = 0

// HealthOK means the link is open and frames arrive within the grace period.
const HealthOK uint16 = 1

// HealthError means the serial link is down and reconnecting.
const HealthError uint16 = 2

// HealthStale means the link is open but silent past the grace period.
const HealthStale uint16 = 3

// HealthDisabled represents a daemon shutting down.
const HealthDisabled uint16 = 4

// ---- FAULT CODES ----

// Link faults use link.FaultKind.Code() (1..5). Codes below extend them.

// FaultNone means no fault since startup.
const FaultNone uint16 = 0

// FaultRender is a failed display write.
const FaultRender uint16 = 16

// FaultFrame is a rejected frame.
const FaultFrame uint16 = 17
