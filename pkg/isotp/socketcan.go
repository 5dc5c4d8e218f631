package isotp

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"github.com/notnil/canbus"
	"golang.org/x/sys/unix"
)

// SocketCANBus is a Bus backed by a Linux SocketCAN raw socket, adapted
// from original_source/inc/can/CanIsoTpProvider.h's socket()/ioctl()/
// bind() sequence. The original binds a kernel CAN_ISOTP socket and lets
// the kernel driver do segmentation; golang.org/x/sys/unix does not carry
// the linux/can/isotp.h protocol family, so this binds a CAN_RAW socket
// instead and leaves segmentation to Pipe, matching how most userspace
// ISO-TP stacks (including LoveWonYoung-isotp, which this package's
// protocol.go is grounded on) are built when kernel ISO-TP offload isn't
// available.
//
// The interface named by ifaceName must already be configured and
// brought up at the OS level, same precondition the original documents:
//
//	ip link set <iface> type can bitrate <bitrate>
//	ip link set <iface> up
type SocketCANBus struct {
	iface string
	fd    int
}

// sockaddr_can layout (linux/can.h): family(2) + pad(2) + ifindex(4) +
// 8 bytes of protocol address union, unused for CAN_RAW.
const sockaddrCANLen = 16

// canRawProtocol is CAN_RAW from linux/can.h; not exposed as a named
// constant by golang.org/x/sys/unix, which stops at the socket(2)
// address-family layer for AF_CAN.
const canRawProtocol = 1

// OpenSocketCANBus binds a CAN_RAW socket on iface.
func OpenSocketCANBus(iface string) (*SocketCANBus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRawProtocol)
	if err != nil {
		return nil, fmt.Errorf("isotp: open CAN socket: %w", err)
	}

	idx, err := interfaceIndex(fd, iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	addr := make([]byte, sockaddrCANLen)
	binary.LittleEndian.PutUint16(addr[0:2], unix.AF_CAN)
	binary.LittleEndian.PutUint32(addr[4:8], uint32(idx))
	if _, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd),
		uintptr(unsafe.Pointer(&addr[0])), uintptr(len(addr))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("isotp: bind %s: %w", iface, errno)
	}

	return &SocketCANBus{iface: iface, fd: fd}, nil
}

// interfaceIndex mirrors the original's ioctl(SIOCGIFINDEX, &ifr): pack a
// 16-byte interface name into a struct ifreq and read back ifr_ifindex at
// offset 16.
func interfaceIndex(fd int, iface string) (int32, error) {
	if len(iface) >= unix.IFNAMSIZ {
		return 0, fmt.Errorf("isotp: interface name %q too long", iface)
	}
	var ifr [40]byte
	copy(ifr[:unix.IFNAMSIZ], iface)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd),
		uintptr(unix.SIOCGIFINDEX), uintptr(unsafe.Pointer(&ifr[0]))); errno != 0 {
		return 0, fmt.Errorf("isotp: SIOCGIFINDEX %s: %w", iface, errno)
	}
	return int32(binary.LittleEndian.Uint32(ifr[unix.IFNAMSIZ : unix.IFNAMSIZ+4])), nil
}

// Send writes one classical CAN frame, encoded per canbus.Frame's
// SocketCAN can_frame layout.
func (b *SocketCANBus) Send(ctx context.Context, f canbus.Frame) error {
	raw, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("isotp: marshal frame: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		unix.SetsockoptTimeval(b.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, toTimeval(time.Until(dl)))
	}
	_, err = unix.Write(b.fd, raw)
	if err != nil {
		return fmt.Errorf("isotp: write %s: %w", b.iface, err)
	}
	return nil
}

// Receive reads one classical CAN frame.
func (b *SocketCANBus) Receive(ctx context.Context) (canbus.Frame, error) {
	if dl, ok := ctx.Deadline(); ok {
		unix.SetsockoptTimeval(b.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, toTimeval(time.Until(dl)))
	}
	buf := make([]byte, 16)
	n, err := unix.Read(b.fd, buf)
	if err != nil {
		return canbus.Frame{}, fmt.Errorf("isotp: read %s: %w", b.iface, err)
	}
	var f canbus.Frame
	if err := f.UnmarshalBinary(buf[:n]); err != nil {
		return canbus.Frame{}, fmt.Errorf("isotp: unmarshal frame: %w", err)
	}
	return f, nil
}

func (b *SocketCANBus) Close() error {
	return unix.Close(b.fd)
}

func toTimeval(d time.Duration) *unix.Timeval {
	if d < 0 {
		d = 0
	}
	t := unix.NsecToTimeval(d.Nanoseconds())
	return &t
}
