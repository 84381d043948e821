//go:build mdns

package satellite

import (
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_taskrails._tcp"
	mdnsDomain      = "local."
)

// advertise registers the satellite port on the local network. The token is
// never published. The returned func withdraws the record.
func advertise(instance string, port int, logger *slog.Logger) (func(), error) {
	txt := []string{"path=/ws", "auth=bearer"}
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	logger.Info("mdns advertising", "instance", instance, "service", mdnsServiceType, "port", port)
	return server.Shutdown, nil
}
