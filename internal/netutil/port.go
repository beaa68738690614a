// Package netutil picks the listen address for the control API.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SelectBindAddr returns the first host:port from ports that can be listened
// on. Ports are tried in order.
func SelectBindAddr(host string, ports []int) (string, error) {
	if len(ports) == 0 {
		return "", errors.New("no controller ports configured")
	}
	tried := make([]string, 0, len(ports))
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
		tried = append(tried, addr)
	}
	return "", fmt.Errorf("no available controller bind addresses (tried %s)", strings.Join(tried, ", "))
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
