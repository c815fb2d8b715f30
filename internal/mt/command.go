package mt

import "fmt"

// CommandType is the 3-bit type field in bits[7:5] of Cmd0.
type CommandType uint8

const (
	TypePoll      CommandType = 0x0
	TypeSREQ      CommandType = 0x1
	TypeAREQ      CommandType = 0x2
	TypeSRSP      CommandType = 0x3
	TypeReserved4 CommandType = 0x4
	TypeReserved5 CommandType = 0x5
	TypeReserved6 CommandType = 0x6
	TypeReserved7 CommandType = 0x7
)

func (t CommandType) String() string {
	switch t {
	case TypePoll:
		return "POLL"
	case TypeSREQ:
		return "SREQ"
	case TypeAREQ:
		return "AREQ"
	case TypeSRSP:
		return "SRSP"
	default:
		return fmt.Sprintf("RES%d", uint8(t)&0x07)
	}
}

// Subsystem is the 5-bit subsystem field in bits[4:0] of Cmd0.
type Subsystem uint8

const (
	SubsystemRPCError   Subsystem = 0x00
	SubsystemSys        Subsystem = 0x01
	SubsystemMAC        Subsystem = 0x02
	SubsystemNWK        Subsystem = 0x03
	SubsystemAF         Subsystem = 0x04
	SubsystemZDO        Subsystem = 0x05
	SubsystemSAPI       Subsystem = 0x06
	SubsystemUtil       Subsystem = 0x07
	SubsystemDebug      Subsystem = 0x08
	SubsystemApp        Subsystem = 0x09
	SubsystemAppConfig  Subsystem = 0x0F
	SubsystemGreenPower Subsystem = 0x15
)

func (s Subsystem) String() string {
	switch s {
	case SubsystemRPCError:
		return "RPC_ERR"
	case SubsystemSys:
		return "SYS"
	case SubsystemMAC:
		return "MAC"
	case SubsystemNWK:
		return "NWK"
	case SubsystemAF:
		return "AF"
	case SubsystemZDO:
		return "ZDO"
	case SubsystemSAPI:
		return "SAPI"
	case SubsystemUtil:
		return "UTIL"
	case SubsystemDebug:
		return "DEBUG"
	case SubsystemApp:
		return "APP"
	case SubsystemAppConfig:
		return "APP_CNF"
	case SubsystemGreenPower:
		return "GP"
	default:
		return fmt.Sprintf("0x%02X", uint8(s))
	}
}

// SubsystemName is the short name table used by the interface identifier.
type SubsystemName uint8

const (
	SubsystemNameRPCError SubsystemName = 0x00
	SubsystemNameSys      SubsystemName = 0x01
	SubsystemNameMAC      SubsystemName = 0x02
	SubsystemNameUtil     SubsystemName = 0x07
	SubsystemNameReserved SubsystemName = 0x31
)

func (n SubsystemName) String() string {
	switch n {
	case SubsystemNameRPCError:
		return "RPC_ERR"
	case SubsystemNameSys:
		return "SYS"
	case SubsystemNameMAC:
		return "MAC"
	case SubsystemNameUtil:
		return "UTIL"
	default:
		return "RESERVED"
	}
}

const (
	cmd0TypeShift     = 5
	cmd0SubsystemMask = 0x1F
)

// Command is the two-byte MT command word. Cmd0 carries the type and
// subsystem, Cmd1 the command id within the subsystem. Cmd0 is sent first.
//
// The canonical wire order is [Cmd0, Cmd1]. Uint16 views the same two bytes
// as a little-endian value, so CommandFromUint16(binary.LittleEndian.Uint16(b))
// equals CommandFromBytes(b).
type Command struct {
	Cmd0 uint8
	Cmd1 uint8
}

// NewCommand builds a command word from its fields.
func NewCommand(t CommandType, s Subsystem, id uint8) Command {
	return Command{
		Cmd0: uint8(t)<<cmd0TypeShift | uint8(s)&cmd0SubsystemMask,
		Cmd1: id,
	}
}

// CommandFromUint16 takes Cmd0 from the low byte and Cmd1 from the high byte.
func CommandFromUint16(v uint16) Command {
	return Command{Cmd0: uint8(v), Cmd1: uint8(v >> 8)}
}

// CommandFromBytes takes the bytes in wire order.
func CommandFromBytes(b [2]byte) Command {
	return Command{Cmd0: b[0], Cmd1: b[1]}
}

// SubsystemCode returns the raw 5-bit subsystem field.
func (c Command) SubsystemCode() uint8 {
	return c.Cmd0 & cmd0SubsystemMask
}

// Subsystem classifies the command. Unassigned codes map to SubsystemRPCError;
// use KnownSubsystem to tell that fallback apart from a real RPC error frame.
func (c Command) Subsystem() Subsystem {
	if !c.KnownSubsystem() {
		return SubsystemRPCError
	}
	return Subsystem(c.SubsystemCode())
}

// KnownSubsystem reports whether the subsystem code is an assigned one.
func (c Command) KnownSubsystem() bool {
	switch Subsystem(c.SubsystemCode()) {
	case SubsystemRPCError, SubsystemSys, SubsystemMAC, SubsystemNWK, SubsystemAF,
		SubsystemZDO, SubsystemSAPI, SubsystemUtil, SubsystemDebug, SubsystemApp,
		SubsystemAppConfig, SubsystemGreenPower:
		return true
	default:
		return false
	}
}

// Type returns the command type. All eight values are defined.
func (c Command) Type() CommandType {
	return CommandType(c.Cmd0 >> cmd0TypeShift)
}

// SubsystemName looks up the short interface name of the masked subsystem
// code. Codes outside the name table report SubsystemNameReserved.
func (c Command) SubsystemName() SubsystemName {
	switch c.SubsystemCode() {
	case 0x00:
		return SubsystemNameRPCError
	case 0x01:
		return SubsystemNameSys
	case 0x02:
		return SubsystemNameMAC
	case 0x07:
		return SubsystemNameUtil
	default:
		return SubsystemNameReserved
	}
}

// Bytes returns the command in wire order.
func (c Command) Bytes() [2]byte {
	return [2]byte{c.Cmd0, c.Cmd1}
}

// Uint16 is the inverse of CommandFromUint16.
func (c Command) Uint16() uint16 {
	return uint16(c.Cmd1)<<8 | uint16(c.Cmd0)
}

// Matches reports whether r answers c: same subsystem code and command id.
func (c Command) Matches(r Command) bool {
	return c.SubsystemCode() == r.SubsystemCode() && c.Cmd1 == r.Cmd1
}

func (c Command) String() string {
	if name := commandName(c); name != "" {
		return fmt.Sprintf("%s %s", c.Type(), name)
	}
	return fmt.Sprintf("%s %s/0x%02X", c.Type(), c.Subsystem(), c.Cmd1)
}

// Well-known SYS commands used by the host itself.
const (
	SysCmdResetReq uint8 = 0x00
	SysCmdPing     uint8 = 0x01
	SysCmdVersion  uint8 = 0x02
	SysCmdResetInd uint8 = 0x80
)

// commandName names the handful of commands the host issues or expects.
func commandName(c Command) string {
	if c.SubsystemCode() != uint8(SubsystemSys) {
		return ""
	}
	switch c.Cmd1 {
	case SysCmdResetReq:
		return "SYS_RESET_REQ"
	case SysCmdPing:
		return "SYS_PING"
	case SysCmdVersion:
		return "SYS_VERSION"
	case SysCmdResetInd:
		return "SYS_RESET_IND"
	default:
		return ""
	}
}
