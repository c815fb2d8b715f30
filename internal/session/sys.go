package session

import (
	"context"
	"encoding/binary"
	"fmt"

	"zigstack/internal/mt"
)

// Capability bits reported by SYS_PING.
const (
	CapSys   uint16 = 0x0001
	CapMAC   uint16 = 0x0002
	CapNWK   uint16 = 0x0004
	CapAF    uint16 = 0x0008
	CapZDO   uint16 = 0x0010
	CapSAPI  uint16 = 0x0020
	CapUtil  uint16 = 0x0040
	CapDebug uint16 = 0x0080
	CapApp   uint16 = 0x0100
	CapZOAD  uint16 = 0x1000
)

// CapabilityNames lists the names of the bits set in caps.
func CapabilityNames(caps uint16) []string {
	names := []struct {
		bit  uint16
		name string
	}{
		{CapSys, "SYS"}, {CapMAC, "MAC"}, {CapNWK, "NWK"}, {CapAF, "AF"},
		{CapZDO, "ZDO"}, {CapSAPI, "SAPI"}, {CapUtil, "UTIL"}, {CapDebug, "DEBUG"},
		{CapApp, "APP"}, {CapZOAD, "ZOAD"},
	}
	var out []string
	for _, n := range names {
		if caps&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// Ping issues SYS_PING and returns the capability bitmap.
func (s *Session) Ping(ctx context.Context) (uint16, error) {
	resp, err := s.Request(ctx, mt.NewCommand(mt.TypeSREQ, mt.SubsystemSys, mt.SysCmdPing), nil)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 2 {
		return 0, fmt.Errorf("session: SYS_PING response: %w: %d bytes", mt.ErrTruncatedFrame, len(resp.Payload))
	}
	return binary.LittleEndian.Uint16(resp.Payload), nil
}

// VersionInfo is the SYS_VERSION response.
type VersionInfo struct {
	TransportRev uint8  `json:"transport_rev"`
	Product      uint8  `json:"product"`
	Major        uint8  `json:"major"`
	Minor        uint8  `json:"minor"`
	Maint        uint8  `json:"maint"`
	Revision     uint32 `json:"revision,omitempty"`
	Raw          []byte `json:"-"`
}

func (v VersionInfo) String() string {
	s := fmt.Sprintf("%d.%d.%d (transport %d, product %d)", v.Major, v.Minor, v.Maint, v.TransportRev, v.Product)
	if v.Revision != 0 {
		s += fmt.Sprintf(" rev %d", v.Revision)
	}
	return s
}

// ParseVersion decodes a SYS_VERSION payload. The trailing revision field is
// optional; older firmware omits it.
func ParseVersion(p []byte) (*VersionInfo, error) {
	if len(p) < 5 {
		return nil, fmt.Errorf("session: SYS_VERSION response: %w: %d bytes", mt.ErrTruncatedFrame, len(p))
	}
	v := &VersionInfo{
		TransportRev: p[0],
		Product:      p[1],
		Major:        p[2],
		Minor:        p[3],
		Maint:        p[4],
		Raw:          append([]byte(nil), p...),
	}
	if len(p) >= 9 {
		v.Revision = binary.LittleEndian.Uint32(p[5:9])
	}
	return v, nil
}

// Version issues SYS_VERSION.
func (s *Session) Version(ctx context.Context) (*VersionInfo, error) {
	resp, err := s.Request(ctx, mt.NewCommand(mt.TypeSREQ, mt.SubsystemSys, mt.SysCmdVersion), nil)
	if err != nil {
		return nil, err
	}
	return ParseVersion(resp.Payload)
}

// Reset types for SYS_RESET_REQ.
const (
	ResetHard uint8 = 0x00
	ResetSoft uint8 = 0x01
)

// Reset sends SYS_RESET_REQ and waits for SYS_RESET_IND. The indication
// payload is returned; its first byte is the reset reason.
func (s *Session) Reset(ctx context.Context, resetType uint8) (*mt.Frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	ind := mt.NewCommand(mt.TypeAREQ, mt.SubsystemSys, mt.SysCmdResetInd)

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	w := s.expect(func(f *mt.Frame) bool { return f.Command() == ind })
	defer s.forget(w)

	req := mt.NewCommand(mt.TypeAREQ, mt.SubsystemSys, mt.SysCmdResetReq)
	if err := s.write(ctx, req, []byte{resetType}); err != nil {
		return nil, err
	}
	f, err := s.wait(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("session: waiting for %s: %w", ind, err)
	}
	s.logger.Info("coprocessor reset", "payload", fmt.Sprintf("%X", f.Payload))
	return f, nil
}
