package rawsocket

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// registeredFilter pairs a Filter with the callback its owning receiver
// wants invoked for matching packets.
type registeredFilter struct {
	filter   Filter
	callback ReceiveFunc
}

// socket is the single kernel (family, protocol) raw socket shared by
// every filter registered for that pair (§4.10's at-most-one invariant).
type socket struct {
	key  socketKey
	file *os.File
	pc4  *ipv4.PacketConn
	pc6  *ipv6.PacketConn

	filters map[string]registeredFilter
	mcast   map[mcastKey]int

	// joinFn/leaveFn indirect the actual kernel call so tests can exercise
	// Manager's refcounting without a real privileged raw socket.
	joinFn  func(ifi *net.Interface, group netip.Addr) error
	leaveFn func(ifi *net.Interface, group netip.Addr) error
}

func newSocket(key socketKey) (*socket, error) {
	af := unix.AF_INET
	if key.Family == FamilyV6 {
		af = unix.AF_INET6
	}
	fd, err := unix.Socket(af, unix.SOCK_RAW, key.Protocol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocketCreateFailed, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrSocketCreateFailed, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrSocketCreateFailed, err)
	}

	file := os.NewFile(uintptr(fd), fmt.Sprintf("rawsocket-%d-%d", key.Family, key.Protocol))
	pc, err := net.FilePacketConn(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	s := &socket{key: key, file: file, filters: make(map[string]registeredFilter), mcast: make(map[mcastKey]int)}
	if key.Family == FamilyV4 {
		s.pc4 = ipv4.NewPacketConn(pc)
		_ = s.pc4.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst|ipv4.FlagSrc|ipv4.FlagTTL, true)
	} else {
		s.pc6 = ipv6.NewPacketConn(pc)
		_ = s.pc6.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst|ipv6.FlagSrc|ipv6.FlagHopLimit, true)
	}
	s.joinFn = s.kernelJoinGroup
	s.leaveFn = s.kernelLeaveGroup
	return s, nil
}

func (s *socket) close() {
	if s.pc4 != nil {
		_ = s.pc4.Close()
	}
	if s.pc6 != nil {
		_ = s.pc6.Close()
	}
	if s.file != nil {
		_ = s.file.Close()
	}
}

// fd returns the descriptor for event-loop selector registration.
func (s *socket) fd() (uintptr, error) {
	raw, err := s.file.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if err := raw.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, err
	}
	return fd, nil
}

// joinGroup issues the kernel multicast join for ifi/group if this is the
// first interested caller for (ifname, vifname, group); refcount tracking
// is the caller's (Manager's) responsibility.
func (s *socket) joinGroup(ifi *net.Interface, group netip.Addr) error {
	return s.joinFn(ifi, group)
}

func (s *socket) leaveGroup(ifi *net.Interface, group netip.Addr) error {
	return s.leaveFn(ifi, group)
}

func (s *socket) kernelJoinGroup(ifi *net.Interface, group netip.Addr) error {
	if s.key.Family == FamilyV4 {
		return s.pc4.JoinGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())})
	}
	return s.pc6.JoinGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())})
}

func (s *socket) kernelLeaveGroup(ifi *net.Interface, group netip.Addr) error {
	if s.key.Family == FamilyV4 {
		return s.pc4.LeaveGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())})
	}
	return s.pc6.LeaveGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())})
}

// writeTo sends payload to dst, optionally pinning ttl/tos and the
// outgoing interface (§4.10's send operation).
func (s *socket) writeTo(payload []byte, dst netip.Addr, ifi *net.Interface, src netip.Addr, ttl, tos uint8) (int, error) {
	addr := &net.UDPAddr{IP: net.IP(dst.AsSlice())}
	if s.key.Family == FamilyV4 {
		cm := &ipv4.ControlMessage{TTL: int(ttl)}
		if ifi != nil {
			cm.IfIndex = ifi.Index
		}
		if src.IsValid() {
			cm.Src = net.IP(src.AsSlice())
		}
		if ttl > 0 {
			_ = s.pc4.SetTTL(int(ttl))
		}
		if tos > 0 {
			_ = s.pc4.SetTOS(int(tos))
		}
		return s.pc4.WriteTo(payload, cm, addr)
	}
	cm := &ipv6.ControlMessage{HopLimit: int(ttl)}
	if ifi != nil {
		cm.IfIndex = ifi.Index
	}
	if src.IsValid() {
		cm.Src = net.IP(src.AsSlice())
	}
	return s.pc6.WriteTo(payload, cm, addr)
}

// readOnce performs one non-blocking read and returns the decoded control
// data alongside the payload, or ok=false on EAGAIN.
func (s *socket) readOnce(buf []byte) (n int, src netip.Addr, dst netip.Addr, ifIndex int, ttl uint8, tos uint8, ok bool, err error) {
	if s.key.Family == FamilyV4 {
		nn, cm, raddr, rerr := s.pc4.ReadFrom(buf)
		if rerr != nil {
			return 0, netip.Addr{}, netip.Addr{}, 0, 0, 0, false, rerr
		}
		if ua, isUDP := raddr.(*net.UDPAddr); isUDP && ua != nil {
			src, _ = netip.AddrFromSlice(ua.IP.To4())
		}
		if cm != nil {
			if cm.Dst != nil {
				dst, _ = netip.AddrFromSlice(cm.Dst.To4())
			}
			ifIndex = cm.IfIndex
			ttl = uint8(cm.TTL)
		}
		return nn, src, dst, ifIndex, ttl, tos, true, nil
	}
	nn, cm, raddr, rerr := s.pc6.ReadFrom(buf)
	if rerr != nil {
		return 0, netip.Addr{}, netip.Addr{}, 0, 0, 0, false, rerr
	}
	if ua, isUDP := raddr.(*net.UDPAddr); isUDP && ua != nil {
		src, _ = netip.AddrFromSlice(ua.IP.To16())
	}
	if cm != nil {
		if cm.Dst != nil {
			dst, _ = netip.AddrFromSlice(cm.Dst.To16())
		}
		ifIndex = cm.IfIndex
		ttl = uint8(cm.HopLimit)
	}
	return nn, src, dst, ifIndex, ttl, tos, true, nil
}
