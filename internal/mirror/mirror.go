// internal/mirror/mirror.go
package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/status"
)

// RefreshInterval bounds how often counter-only changes are written.
// Health transitions are written immediately.
const RefreshInterval = time.Second

// registerClient is the exact contract the mirror uses.
type registerClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// Plan locates the block on the bus.
type Plan struct {
	UnitID     uint8
	BaseSlot   uint16
	DeviceName string
}

// Mirror delivers daemon status snapshots into a register block.
// A full block (device name included) is written on first use and after
// any failure; otherwise only changed slots are written.
type Mirror struct {
	plan Plan
	cli  registerClient
	log  *zap.Logger

	needFull bool
	last     status.Snapshot
	nameRegs []uint16

	next time.Time
}

func New(plan Plan, cli registerClient, log *zap.Logger) (*Mirror, error) {
	if cli == nil {
		return nil, errors.New("mirror: register client required")
	}
	if plan.UnitID == 0 {
		return nil, errors.New("mirror: unit id required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		plan:     plan,
		cli:      cli,
		log:      log,
		needFull: true, // full re-assert on first successful write
		last:     status.Snapshot{Health: status.HealthUnknown},
		nameRegs: status.EncodeDeviceName(plan.DeviceName),
	}, nil
}

// Update writes s when health changed, or when anything else changed
// and the refresh interval elapsed. After a failed write the full
// re-assert is retried at most once per refresh interval.
func (m *Mirror) Update(s status.Snapshot, now time.Time) error {
	switch {
	case m.needFull && now.Before(m.next):
		return nil
	case m.needFull:
	case s.Health != m.last.Health:
	case s != m.last && !now.Before(m.next):
	default:
		return nil
	}

	m.next = now.Add(RefreshInterval)
	if err := m.WriteStatus(s); err != nil {
		m.log.Warn("status mirror write failed",
			zap.Uint8("unit_id", m.plan.UnitID),
			zap.Uint16("base_slot", m.plan.BaseSlot),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// WriteStatus delivers a snapshot into the block.
// On any write failure, the next successful call will re-assert the full block.
func (m *Mirror) WriteStatus(s status.Snapshot) error {
	baseAddr := m.baseAddr()

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if m.needFull {
		regs := status.EncodeFull(s, m.nameRegs)
		if err := m.cli.WriteRegisters(m.plan.UnitID, baseAddr, regs); err != nil {
			m.needFull = true
			return fmt.Errorf("mirror: full block write failed: %w", err)
		}
		m.needFull = false
		m.last = s
		return nil
	}

	// ------------------------------------------------------------
	// Per-slot writes
	// ------------------------------------------------------------
	want := status.Encode(s)
	have := status.Encode(m.last)

	var errs []string
	for _, slot := range status.LiveSlots() {
		if want[slot] == have[slot] {
			continue
		}
		if err := m.cli.WriteRegisters(m.plan.UnitID, baseAddr+uint16(slot), []uint16{want[slot]}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d write failed: %v", slot, err))
		}
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt: re-assert on next success.
		m.needFull = true
		return errors.New("mirror: " + strings.Join(errs, " | "))
	}

	m.last = s
	return nil
}

func (m *Mirror) baseAddr() uint16 {
	// Each daemon owns a fixed SlotsPerDevice block.
	return m.plan.BaseSlot * status.SlotsPerDevice
}
