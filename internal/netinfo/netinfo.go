// Package netinfo discovers the addresses printed in the startup banner so an
// operator knows what to configure on the device.
package netinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
)

const DefaultPublicIPURL = "https://api.ipify.org?format=json"

// LocalIP returns the address of the interface used for outbound traffic,
// falling back to the hostname's address and then loopback.
func LocalIP() string {
	// UDP dial sends no packets; it only selects a route.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if address, ok := conn.LocalAddr().(*net.UDPAddr); ok && !address.IP.IsUnspecified() {
			return address.IP.String()
		}
	}

	hostname, err := os.Hostname()
	if err == nil {
		addresses, err := net.LookupHost(hostname)
		if err == nil {
			for _, address := range addresses {
				if ip := net.ParseIP(address); ip != nil && ip.To4() != nil && !ip.IsLoopback() {
					return address
				}
			}
		}
	}

	return "127.0.0.1"
}

// PublicIP asks an ipify-compatible endpoint for this host's public address.
func PublicIP(ctx context.Context, client *http.Client, lookupURL string) (string, error) {
	if lookupURL == "" {
		lookupURL = DefaultPublicIPURL
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	response, err := client.Do(request)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("lookup status %d", response.StatusCode)
	}

	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	ip := strings.TrimSpace(payload.IP)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("lookup returned invalid ip %q", payload.IP)
	}
	return ip, nil
}
