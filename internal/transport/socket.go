// Socket tuning for the transport's UDP connections: extracting the raw
// file descriptor to apply the don't-fragment hint, grounded on
// runZeroInc-sockstats/pkg/exporter's use of higebu/netfd to reach a raw
// fd from a net.Conn, paired with golang.org/x/sys/unix the way the
// teacher's indirect x/sys dependency (pulled in for RMCP+ socket
// handling) is used for low-level socket options.
package transport

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// TuneSocket applies the don't-fragment hint to a UDP connection so
// block-wise transfers stay within the configured MTU instead of
// fragmenting at the IP layer. Best-effort: failures are non-fatal since
// not every platform/NIC combination honors the option.
func TuneSocket(conn net.Conn, dontFragment bool) error {
	if !dontFragment {
		return nil
	}
	fd, err := netfd.GetFdFromConn(conn)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); err != nil {
		return err
	}
	return nil
}

// DialUDP dials a UDP socket with an explicit address family, used by the
// lifecycle's IPv4/IPv6 fallback policy (spec §4.I retry policy).
func DialUDP(network, addr string) (net.Conn, error) {
	return net.Dial(network, addr)
}
