package main

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/newtron-network/newtring/pkg/cli"
	"github.com/newtron-network/newtring/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.newtring/settings.json.

Settings provide defaults for context flags and tuning:
  - inventory_dir:  Used when -I is not specified
  - default_ring:   Used when -r is not specified
  - redis_addr:     Shared ring state store (status, last plan, run lock)
  - max_plan_age:   Oldest stored plan "apply --last" will execute

Examples:
  newtring settings show
  newtring settings set default_ring ring-east
  newtring settings set redis_addr 127.0.0.1:6379
  newtring settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE", "EFFECTIVE")
		for _, key := range settings.Keys() {
			value, effective := settingValue(s, key)
			if value == "" {
				value = cli.Dim("(not set)")
			}
			t.Row(key, value, effective)
		}
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value. An empty value clears it.

Available settings:
  ` + strings.Join(settings.Keys(), ", ") + `

Examples:
  newtring settings set inventory_dir /etc/newtring
  newtring settings set workers 16
  newtring settings set device_timeout 5s
  newtring settings set apply_interval 500ms
  newtring settings set max_plan_age 30m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid: %s)", err, strings.Join(settings.Keys(), ", "))
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if !lo.Contains(settings.Keys(), args[0]) {
			return fmt.Errorf("unknown setting: %s (valid: %s)", args[0], strings.Join(settings.Keys(), ", "))
		}
		value, effective := settingValue(s, args[0])
		switch {
		case value != "":
			fmt.Println(value)
		case effective != "":
			fmt.Printf("(not set, using %s)\n", effective)
		default:
			fmt.Println("(not set)")
		}
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("Settings cleared.")
		return nil
	},
}

// settingValue returns the stored and effective value of a setting.
func settingValue(s *settings.Settings, key string) (value, effective string) {
	switch key {
	case "inventory_dir":
		return s.InventoryDir, s.GetInventoryDir()
	case "default_ring":
		return s.DefaultRing, s.DefaultRing
	case "redis_addr":
		return s.RedisAddr, s.RedisAddr
	case "redis_db":
		return itoaOrEmpty(s.RedisDB), fmt.Sprint(s.RedisDB)
	case "workers":
		return itoaOrEmpty(s.Workers), fmt.Sprint(s.GetWorkers())
	case "device_timeout":
		return s.DeviceTimeout, s.GetDeviceTimeout().String()
	case "apply_interval":
		return s.ApplyInterval, s.GetApplyInterval().String()
	case "max_plan_age":
		return s.MaxPlanAge, s.GetMaxPlanAge().String()
	case "audit_log":
		return s.AuditLog, s.GetAuditLog()
	}
	return "", ""
}

func itoaOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprint(n)
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
}
