package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/wesleywu/tunroute/internal/config"
	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/network"
	"github.com/wesleywu/tunroute/internal/routing"
	"github.com/wesleywu/tunroute/internal/routing/entities"
	"github.com/wesleywu/tunroute/internal/routing/memtable"
	"github.com/wesleywu/tunroute/internal/routing/platform"
)

var (
	version = "dev"

	dnsServer   string
	dryRun      bool
	silentMode  bool
	verboseMode bool
)

func main() {
	rootCmd := newRootCommand(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var re *entities.RouteError
		if errors.As(err, &re) && re.IsMutationError() {
			fmt.Fprintln(os.Stderr, "The routing table was left partially changed; check it before running again.")
		}
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tunroute",
		Short:         "Route all traffic through a tunnel adapter",
		Long:          `Switch the IPv4 default route to a tunnel gateway and back, keeping the proxy server and the DNS resolver reachable outside the tunnel.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		// arguments are validated by now; later failures are not usage errors
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return &entities.RouteError{Kind: entities.ErrBadArguments, Message: "a command is required"}
		},
	}

	onCmd := &cobra.Command{
		Use:   "on <tunnelGateway> <proxyServer>",
		Short: "Route traffic through the tunnel",
		Long:  `Add a default route via the tunnel gateway, remove the current one and add host routes to the proxy server and DNS resolver via the old gateway. Prints "current gateway: <ip>", which "off" needs.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOn(cmd, args, out)
		},
	}

	offCmd := &cobra.Command{
		Use:   "off <tunnelGateway> <proxyServer> <previousGateway>",
		Short: "Restore the previous default route",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOff(cmd, args, out)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <tunnelGateway> <proxyServer> [previousGateway]",
		Short: "Show how the routing table is classified",
		Long:  `Read the routing table, show which rows play the tunnel, gateway and bypass roles and the interface each address is reached through. Nothing is changed.`,
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args, out)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "tunroute %s\n", version)
			fmt.Fprintf(out, "Runtime: %s\n", runtime.Version())
			fmt.Fprintf(out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dnsServer, "dns", config.DefaultDNSBypass, "DNS resolver kept outside the tunnel")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Apply changes to an in-memory copy of the routing table")
	rootCmd.PersistentFlags().BoolVarP(&silentMode, "silent", "s", false, "Silent mode (no logs)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "Verbose mode (debug level logging)")

	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// session is what every table-touching command needs
type session struct {
	cfg   *config.Config
	log   *logger.Logger
	rm    entities.RouteManager
	dry   *memtable.Table
	close func() error
}

func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.SilentMode = silentMode
	cfg.DryRun = dryRun
	if verboseMode {
		cfg.LogLevel = "debug"
	}

	dns, err := config.ParseDNSBypass(dnsServer)
	if err != nil {
		return nil, err
	}
	cfg.DNSBypass = dns

	if err := cfg.Validate(); err != nil {
		return nil, &entities.RouteError{Kind: entities.ErrBadArguments, Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

func openSession(cfg *config.Config) (*session, error) {
	log := logger.New(cfg.LogLevel, cfg.SilentMode)

	rm, err := platform.NewPlatformRouteManager(log)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, log: log, rm: rm, close: rm.Close}
	if !cfg.DryRun {
		return s, nil
	}

	rows, err := rm.Snapshot()
	if err != nil {
		rm.Close()
		return nil, err
	}
	s.dry = memtable.FromSnapshot(rows, rm)
	if limiter, ok := rm.(entities.DefaultRouteLimiter); ok {
		s.dry.MaxDefaults = limiter.MaxDefaultRoutes()
	}
	s.rm = s.dry
	log.Info("dry run: changes go to an in-memory copy of the routing table", "rows", len(rows))
	return s, nil
}

// report prints what a dry run would have changed
func (s *session) report(out io.Writer) {
	if s.dry == nil {
		return
	}
	for _, m := range s.dry.History() {
		action := "delete"
		if m.Created {
			action = "add"
		}
		fmt.Fprintf(out, "dry run: would %s %s\n", action, m.Route)
	}
}

func runOn(cmd *cobra.Command, args []string, out io.Writer) error {
	tunnelGW, err := config.ParseIPv4("tunnel gateway", args[0])
	if err != nil {
		return err
	}
	proxy, err := config.ParseIPv4("proxy server", args[1])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	rs, err := routing.NewRouteSwitch(s.rm, cfg.DNSBypass, out, s.log)
	if err != nil {
		return err
	}

	prev, err := rs.Connect(tunnelGW, proxy)
	if err != nil {
		return err
	}
	s.report(out)

	s.log.Info("routing through tunnel",
		"tunnel_gateway", tunnelGW.String(),
		"previous_gateway", prev.String(),
		"dry_run", cfg.DryRun)
	return nil
}

func runOff(cmd *cobra.Command, args []string, out io.Writer) error {
	tunnelGW, err := config.ParseIPv4("tunnel gateway", args[0])
	if err != nil {
		return err
	}
	proxy, err := config.ParseIPv4("proxy server", args[1])
	if err != nil {
		return err
	}
	prev, err := config.ParseIPv4("previous gateway", args[2])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	rs, err := routing.NewRouteSwitch(s.rm, cfg.DNSBypass, out, s.log)
	if err != nil {
		return err
	}

	if err := rs.Disconnect(tunnelGW, proxy, prev); err != nil {
		return err
	}
	s.report(out)

	s.log.Info("tunnel routes removed", "gateway", prev.String(), "dry_run", cfg.DryRun)
	return nil
}

func runStatus(cmd *cobra.Command, args []string, out io.Writer) error {
	p := routing.Params{}
	var err error
	if p.TunnelGateway, err = config.ParseIPv4("tunnel gateway", args[0]); err != nil {
		return err
	}
	if p.ProxyServer, err = config.ParseIPv4("proxy server", args[1]); err != nil {
		return err
	}
	if len(args) == 3 {
		if p.PreviousGateway, err = config.ParseIPv4("previous gateway", args[2]); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p.DNSBypass = cfg.DNSBypass

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	rs, err := routing.NewRouteSwitch(s.rm, cfg.DNSBypass, out, s.log)
	if err != nil {
		return err
	}

	snapshot, c, err := rs.Inspect(p)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "routing table: %d rows, fingerprint %016x\n", len(snapshot), entities.Fingerprint(snapshot))
	fmt.Fprintf(out, "tunnel gateway route: %s\n", describeRoute(c.TunnelGateway))
	fmt.Fprintf(out, "previous gateway route: %s\n", describeRoute(c.PreviousGateway()))
	fmt.Fprintf(out, "proxy server route: %s\n", describeRoute(c.ProxyBypass))
	fmt.Fprintf(out, "DNS server route: %s\n", describeRoute(c.DNSBypass))

	targets := []network.Target{
		{Label: "tunnel gateway", Address: p.TunnelGateway},
		{Label: "proxy server", Address: p.ProxyServer},
		{Label: "DNS server", Address: p.DNSBypass},
	}
	if prev := c.PreviousGateway(); prev != nil && prev.NextHop != nil {
		targets = append(targets, network.Target{Label: "previous gateway", Address: prev.NextHop})
	} else if p.PreviousGateway != nil {
		targets = append(targets, network.Target{Label: "previous gateway", Address: p.PreviousGateway})
	}

	prober := network.NewProber(s.rm, cfg.ProbeConcurrency, cfg.ProbeTimeout, s.log)
	paths, err := prober.Probe(cmd.Context(), targets)
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintf(out, "path to %s\n", path)
	}
	return nil
}

func describeRoute(r *entities.RouteEntry) string {
	if r == nil {
		return "none"
	}
	return r.String()
}
