package lobby

import (
	"fmt"
	"net"
)

// resolveUDP builds a *net.UDPAddr for a battle host's observed IP and
// UDP port, used to register it with the natserver helper.
func resolveUDP(ip string, port int) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, port))
}
