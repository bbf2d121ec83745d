// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
)

// DetectedHostAddress returns the first non-loopback IPv4 address of an up
// interface, then IPv6, then "localhost".
func DetectedHostAddress() string {
	netInterfaces, err := net.Interfaces()
	if err != nil {
		logger.Info().Msgf("failed to detect net interfaces: %v", err)
		return "localhost"
	}

	if v4 := selectAddress(netInterfaces, true); v4 != "" {
		return v4
	}
	if v6 := selectAddress(netInterfaces, false); v6 != "" {
		return v6
	}
	return "localhost"
}

func selectAddress(netInterfaces []net.Interface, v4 bool) string {
	for _, netInterface := range netInterfaces {
		if netInterface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := netInterface.Addrs()
		if err != nil {
			logger.Info().Msgf("get interface addresses: %v", err)
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			isV4 := ipNet.IP.To4() != nil
			if v4 && isV4 {
				return ipNet.IP.String()
			}
			// Link-local IPv6 needs a zone and cannot be bound to.
			if !v4 && !isV4 && !ipNet.IP.IsLinkLocalUnicast() {
				return ipNet.IP.String()
			}
		}
	}
	return ""
}

func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}
