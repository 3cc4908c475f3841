// Newtring - Ring Topology Health and Recovery Tool
//
// Evaluates access rings hanging off an aggregation switch, classifies
// single link or node failures and plans the port and VLAN changes that keep
// every access device reachable:
//   - Read-only by default (apply previews the plan, require -x to execute)
//   - SONiC (Redis over SSH) and SNMP drivers per device
//   - Audit logging of every executed plan
//
// Examples:
//
//	newtring list                          # Declared rings and their status
//	newtring check ring-east               # Evaluate and print the plan
//	newtring -r ring-east apply            # Preview the plan
//	newtring -r ring-east apply -x         # Execute it
//	newtring discover agg1                 # Find rings behind an aggregation
//	newtring set-status ring-west DEACTIVATED
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/newtring/pkg/audit"
	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/device/snmp"
	"github.com/newtron-network/newtring/pkg/device/sonic"
	"github.com/newtron-network/newtring/pkg/inventory"
	"github.com/newtron-network/newtring/pkg/ring"
	"github.com/newtron-network/newtring/pkg/settings"
	"github.com/newtron-network/newtring/pkg/store"
	"github.com/newtron-network/newtring/pkg/util"
	"github.com/newtron-network/newtring/pkg/version"
)

// annotationDevices marks commands that open devices and may need the SSH
// password prompt.
const annotationDevices = "devices"

var (
	// Global context flags
	inventoryDir string // -I, --inventory
	ringName     string // -r, --ring

	// Global option flags
	executeMode bool
	verbose     bool
	jsonOutput  bool
	logJSON     bool

	// Global state
	userSettings *settings.Settings
	inv          *inventory.Inventory
	manager      *ring.Manager
	stateStore   ring.Store
	closers      []func() error
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "newtring",
	Short:             "Ring Topology Health and Recovery Tool",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Newtring evaluates access rings and plans their recovery.

A ring is a chain of access switches whose two ends connect to one
aggregation switch. Newtring probes every member, classifies the ring and
proposes the port and VLAN changes that restore connectivity.
apply previews changes by default; use -x to execute.

  newtring [-r <ring>] <command> [args] [-x]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isSettingsOrHelp(cmd) {
			return nil
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}
		if inventoryDir == "" {
			inventoryDir = userSettings.GetInventoryDir()
		}
		if ringName == "" {
			ringName = userSettings.DefaultRing
		}

		// quiet by default, verbose on -v
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if logJSON {
			util.SetJSONFormat()
		}

		inv, err = inventory.Load(inventoryDir)
		if err != nil {
			return fmt.Errorf("loading inventory: %w", err)
		}
		if cmd.Annotations[annotationDevices] != "" {
			if err := promptPassword(inv); err != nil {
				return err
			}
		}

		stateStore, err = openStore(cmd.Context())
		if err != nil {
			return err
		}

		auditLogger, err := audit.NewFileLogger(userSettings.GetAuditLog(), audit.RotationConfig{
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxBackups: 10,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(auditLogger)
			closers = append(closers, auditLogger.Close)
		}

		registry := device.NewRegistry()
		sonic.Register(registry)
		snmp.Register(registry)

		cfg := ring.Config{
			Workers:       userSettings.GetWorkers(),
			DeviceTimeout: userSettings.GetDeviceTimeout(),
			ApplyInterval: userSettings.GetApplyInterval(),
			MaxPlanAge:    userSettings.GetMaxPlanAge(),
			User:          currentUser(),
		}
		if m, err := inv.Matcher(); err == nil {
			cfg.Matcher = m
		} else {
			util.Debugf("discovery disabled: %v", err)
		}

		manager = ring.NewManager(registry, inv, stateStore, cfg)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		for _, c := range closers {
			if err := c(); err != nil {
				util.Warnf("closing: %v", err)
			}
		}
		closers = nil
		return nil
	},
}

func init() {
	// Context flags
	rootCmd.PersistentFlags().StringVarP(&inventoryDir, "inventory", "I", "", "Inventory directory")
	rootCmd.PersistentFlags().StringVarP(&ringName, "ring", "r", "", "Ring name")

	// Option flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	addWriteFlags(applyCmd)
	for _, cmd := range []*cobra.Command{listCmd, showCmd, checkCmd, applyCmd, discoverCmd} {
		addOutputFlags(cmd)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "ring", Title: "Ring Operations:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{listCmd, showCmd, checkCmd, applyCmd, discoverCmd, setStatusCmd} {
		cmd.GroupID = "ring"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, auditCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("newtring dev build (use 'make build' for version info)")
			return
		}
		fmt.Println(version.Info())
	},
}

// openStore returns the shared Redis store when one is configured, otherwise
// a store that lives for this invocation only.
func openStore(ctx context.Context) (ring.Store, error) {
	if userSettings.RedisAddr == "" {
		util.Debugf("no redis_addr set; ring state is kept in memory")
		return store.NewMemory(), nil
	}
	r, err := store.NewRedis(ctx, userSettings.RedisAddr, userSettings.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	closers = append(closers, r.Close)
	return r, nil
}

// promptPassword asks once for the SSH password shared by every SONiC
// device that has a user but no password.
func promptPassword(inv *inventory.Inventory) error {
	devices := inv.NeedsPassword()
	if len(devices) == 0 {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		util.Warnf("no SSH password for %s and stdin is not a terminal", strings.Join(devices, ", "))
		return nil
	}

	fmt.Fprintf(os.Stderr, "SSH password for %s: ", strings.Join(devices, ", "))
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	inv.SetPassword(string(pw))
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// requireRing resolves the ring from the first argument, -r, or the
// default_ring setting.
func requireRing(args []string) (*ring.Definition, error) {
	name := ringName
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return nil, fmt.Errorf("ring required: use -r <ring> flag or provide as argument")
	}
	return inv.Ring(name)
}

func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "settings":
			return true
		}
	}
	return false
}

// addWriteFlags registers -x/--execute as a local flag.
func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&executeMode, "execute", "x", false, "Execute changes (default is dry-run)")
}

// addOutputFlags registers --json as a local flag.
func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if cmd.HasSubCommands() {
		flags = cmd.PersistentFlags()
	}
	flags.BoolVar(&jsonOutput, "json", false, "JSON output")
}
