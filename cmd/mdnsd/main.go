// Command mdnsd is a small daemon that registers a JSON-configured
// list of services with mdns.Server, browses one service type, and
// logs what it discovers until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beacondns/mdns/internal/config"
	"github.com/beacondns/mdns/internal/ifaces"
	"github.com/beacondns/mdns/internal/records"
	"github.com/beacondns/mdns/mdns"
)

func main() {
	servicesPath := flag.String("services", "", "path to a JSON file listing services to register")
	browseType := flag.String("browse", "_services._dns-sd._udp.local.", "service type to browse and log discoveries for")
	hostname := flag.String("hostname", "", "hostname to probe and defend (defaults to os.Hostname())")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*servicesPath, *browseType, *hostname); err != nil {
		logger.Error("mdnsd exiting", "error", err)
		os.Exit(1)
	}
}

func run(servicesPath, browseType, hostname string) error {
	logger := slog.Default()

	var opts []config.Option
	if hostname != "" {
		opts = append(opts, config.WithHostname(hostname))
	}
	cfg, err := config.New(opts...)
	if err != nil {
		return err
	}

	logger.Info("interfaces available for multicast", "interfaces", interfaceNames())

	srv, err := mdns.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	services, err := loadServices(servicesPath)
	if err != nil {
		return err
	}
	for _, svc := range services {
		regCtx, regCancel := context.WithTimeout(ctx, cfg.ProbeTimeout+2*time.Second)
		err := srv.Register(regCtx, svc)
		regCancel()
		if err != nil {
			logger.Error("failed to register service", "instance", svc.InstanceName, "error", err)
			continue
		}
		logger.Info("registered service", "instance", svc.InstanceName, "type", svc.ServiceType, "port", svc.Port)
	}

	l := srv.AddServiceListener(browseType, func(info records.ServiceInfo, added bool) {
		if added {
			logger.Info("discovered service", "instance", info.InstanceName, "host", info.Hostname, "port", info.Port)
		} else {
			logger.Info("service went away", "instance", info.InstanceName)
		}
	})
	defer srv.RemoveListener(l)

	<-ctx.Done()
	logger.Info("shutting down, sending goodbyes")

	unregCtx, unregCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer unregCancel()
	return srv.UnregisterAll(unregCtx)
}

func interfaceNames() []string {
	var names []string
	for _, iface := range ifaces.Enumerate() {
		names = append(names, iface.Name)
	}
	return names
}

func loadServices(path string) ([]records.ServiceInfo, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var services []records.ServiceInfo
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, err
	}
	return services, nil
}
