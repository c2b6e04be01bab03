package utils

import (
	"fmt"
	"net"
	"time"
)

// CheckPortListening reports whether something is accepting connections on
// the local port. Used to sanity-check the service being exposed.
func CheckPortListening(port int) bool {
	timeout := time.Second
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return false
	}
	if conn != nil {
		conn.Close()
		return true
	}
	return false
}
