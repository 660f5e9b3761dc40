// ABOUTME: mDNS advertisement for audio sinks
// ABOUTME: Publishes the sink as _pwmaudio._tcp for sources to find
package sink

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

const mdnsService = "_pwmaudio._tcp"

// DiscoveryConfig holds mDNS configuration
type DiscoveryConfig struct {
	ServiceName string
	Port        int
}

// Discovery handles mDNS advertisement
type Discovery struct {
	config DiscoveryConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDiscovery creates a discovery manager
func NewDiscovery(config DiscoveryConfig) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())

	return &Discovery{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Advertise advertises this sink via mDNS
func (d *Discovery) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		d.config.ServiceName,
		mdnsService,
		"",
		"",
		d.config.Port,
		ips,
		[]string{"path=/pwmaudio"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d", d.config.ServiceName, d.config.Port)

	go func() {
		<-d.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Stop stops the advertisement
func (d *Discovery) Stop() {
	d.cancel()
}

// getLocalIPs returns local non-loopback IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
