package wire

import "syscall"

// HostFamily translates a wire address family constant to the host
// platform's syscall constant, for code that needs to hand a family to the
// kernel (e.g. socket options). Frames themselves never carry host-native
// values — see FamilyFromHost/TransportFromHost for the reverse direction
// used at the JSON bind-config boundary.
func HostFamily(family uint8) (int, bool) {
	switch family {
	case FamilyIPv4:
		return syscall.AF_INET, true
	case FamilyIPv6:
		return syscall.AF_INET6, true
	default:
		return 0, false
	}
}

// HostTransport translates a wire transport constant to the host
// platform's syscall constant.
func HostTransport(transport uint8) (int, bool) {
	switch transport {
	case TransportTCP:
		return syscall.SOCK_STREAM, true
	case TransportUDP:
		return syscall.SOCK_DGRAM, true
	default:
		return 0, false
	}
}

// FamilyFromHost translates the host's numeric AF_INET/AF_INET6 constant,
// as received in the bootstrap JSON bind configuration, into the portable
// wire family constant. This is the boundary spec.md §9 requires: host
// numeric constants never travel past this function.
func FamilyFromHost(hostFamily int) (uint8, bool) {
	switch hostFamily {
	case syscall.AF_INET:
		return FamilyIPv4, true
	case syscall.AF_INET6:
		return FamilyIPv6, true
	default:
		return 0, false
	}
}

// TransportFromHost translates the host's numeric SOCK_STREAM/SOCK_DGRAM
// constant, as received in the bootstrap JSON bind configuration, into the
// portable wire transport constant.
func TransportFromHost(hostProtocol int) (uint8, bool) {
	switch hostProtocol {
	case syscall.SOCK_STREAM:
		return TransportTCP, true
	case syscall.SOCK_DGRAM:
		return TransportUDP, true
	default:
		return 0, false
	}
}
