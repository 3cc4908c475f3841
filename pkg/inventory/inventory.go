// Package inventory loads the device and ring inventory that newtring works
// on: how to reach each device, which rings exist and how discovery reads
// interface descriptions.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtring/pkg/device"
	"github.com/newtron-network/newtring/pkg/finder"
	"github.com/newtron-network/newtring/pkg/ring"
	"github.com/newtron-network/newtring/pkg/util"
)

// DefaultDir is the default inventory directory
var DefaultDir = "/etc/newtring"

// FileName is the inventory file inside the directory.
const FileName = "inventory.yaml"

// Device roles.
const (
	RoleAccess      = "access"
	RoleAggregation = "aggregation"
)

// Defaults fill device fields left empty.
type Defaults struct {
	Driver      string `yaml:"driver" validate:"omitempty,oneof=sonic snmp"`
	SSHUser     string `yaml:"ssh_user"`
	SSHPort     int    `yaml:"ssh_port" validate:"omitempty,min=1,max=65535"`
	KnownHosts  string `yaml:"known_hosts"`
	RedisPort   int    `yaml:"redis_port" validate:"omitempty,min=1,max=65535"`
	Community   string `yaml:"community"`
	SNMPVersion string `yaml:"snmp_version" validate:"omitempty,oneof=1 2c"`
	SNMPPort    uint16 `yaml:"snmp_port"`
	PingCount   int    `yaml:"ping_count" validate:"min=0,max=20"`
	Timeout     string `yaml:"timeout" validate:"omitempty,duration"`
}

// Device is one managed switch.
type Device struct {
	Address     string `yaml:"address" validate:"required,ip|hostname_rfc1123"`
	Driver      string `yaml:"driver" validate:"omitempty,oneof=sonic snmp"`
	Role        string `yaml:"role" validate:"omitempty,oneof=access aggregation"`
	SSHUser     string `yaml:"ssh_user"`
	SSHPassword string `yaml:"ssh_password"`
	SSHPort     int    `yaml:"ssh_port" validate:"omitempty,min=1,max=65535"`
	KnownHosts  string `yaml:"known_hosts"`
	RedisPort   int    `yaml:"redis_port" validate:"omitempty,min=1,max=65535"`
	Community   string `yaml:"community"`
	SNMPVersion string `yaml:"snmp_version" validate:"omitempty,oneof=1 2c"`
	SNMPPort    uint16 `yaml:"snmp_port"`
	PingCount   int    `yaml:"ping_count" validate:"min=0,max=20"`
	Timeout     string `yaml:"timeout" validate:"omitempty,duration"`
}

// Ring is a declared ring. VLANs uses range syntax ("10,20-25").
type Ring struct {
	Head    string        `yaml:"head" validate:"required"`
	Tail    string        `yaml:"tail" validate:"required"`
	VLANs   string        `yaml:"vlans" validate:"required,vlanrange"`
	Status  string        `yaml:"status" validate:"omitempty,ringstatus"`
	Members []ring.Member `yaml:"members" validate:"min=3,max=50,dive"`
}

// Discovery configures how interface descriptions name neighbors.
type Discovery struct {
	AccessPattern      string `yaml:"access_pattern" validate:"omitempty,regexp"`
	AggregationPattern string `yaml:"aggregation_pattern" validate:"omitempty,regexp"`
}

// File is the on-disk layout of inventory.yaml.
type File struct {
	Defaults  Defaults           `yaml:"defaults"`
	Devices   map[string]*Device `yaml:"devices" validate:"required,min=1,dive"`
	Rings     map[string]*Ring   `yaml:"rings" validate:"dive"`
	Discovery Discovery          `yaml:"discovery"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("vlanrange", func(fl validator.FieldLevel) bool {
		_, err := util.ExpandVLANRange(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("ringstatus", func(fl validator.FieldLevel) bool {
		_, err := ring.ParseStatus(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
}

// Inventory is a loaded, validated inventory file.
type Inventory struct {
	path string
	file File
}

// Load reads <dir>/inventory.yaml.
func Load(dir string) (*Inventory, error) {
	if dir == "" {
		dir = DefaultDir
	}
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	inv.path = path
	return inv, nil
}

// Parse decodes and validates inventory YAML.
func Parse(data []byte) (*Inventory, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	inv := &Inventory{file: f}
	if err := inv.validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Path returns the file the inventory was loaded from, if any.
func (inv *Inventory) Path() string {
	return inv.path
}

func (inv *Inventory) validate() error {
	v := &util.ValidationBuilder{}

	if err := validate.Struct(&inv.file); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			v.AddErrorf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "File."), describeTag(fe))
		}
	}

	for _, name := range inv.DeviceNames() {
		d := inv.file.Devices[name]
		if d == nil {
			v.AddErrorf("device %s: empty entry", name)
			continue
		}
		if inv.driver(d) == "" {
			v.AddErrorf("device %s: no driver and no default driver", name)
		}
	}

	for _, name := range inv.RingNames() {
		r := inv.file.Rings[name]
		if r == nil {
			v.AddErrorf("ring %s: empty entry", name)
			continue
		}
		refs := append([]string{r.Head, r.Tail}, lo.Map(r.Members, func(m ring.Member, _ int) string { return m.Device })...)
		for _, m := range r.Members {
			if m.Next != "" {
				refs = append(refs, m.Next)
			}
		}
		for _, dev := range lo.Uniq(refs) {
			if dev == "" {
				continue
			}
			if _, ok := inv.file.Devices[dev]; !ok {
				v.AddErrorf("ring %s: device %s is not in the inventory", name, dev)
			}
		}
	}

	return v.Build()
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// DeviceNames returns all device names, sorted.
func (inv *Inventory) DeviceNames() []string {
	names := lo.Keys(inv.file.Devices)
	sort.Strings(names)
	return names
}

// Device returns a device entry.
func (inv *Inventory) Device(name string) (*Device, bool) {
	d, ok := inv.file.Devices[name]
	return d, ok && d != nil
}

// Aggregations returns the devices with the aggregation role, sorted.
func (inv *Inventory) Aggregations() []string {
	return lo.Filter(inv.DeviceNames(), func(name string, _ int) bool {
		return inv.file.Devices[name].Role == RoleAggregation
	})
}

func (inv *Inventory) driver(d *Device) string {
	if d == nil {
		return ""
	}
	return lo.Ternary(d.Driver != "", d.Driver, inv.file.Defaults.Driver)
}

// Target merges a device entry with the defaults.
func (inv *Inventory) Target(name string) (device.Target, bool) {
	d, ok := inv.Device(name)
	if !ok {
		return device.Target{}, false
	}
	def := inv.file.Defaults

	t := device.Target{
		Name:        name,
		Address:     d.Address,
		Driver:      inv.driver(d),
		RedisPort:   lo.Ternary(d.RedisPort != 0, d.RedisPort, def.RedisPort),
		SSHPort:     lo.Ternary(d.SSHPort != 0, d.SSHPort, def.SSHPort),
		SSHUser:     lo.Ternary(d.SSHUser != "", d.SSHUser, def.SSHUser),
		SSHPassword: d.SSHPassword,
		KnownHosts:  lo.Ternary(d.KnownHosts != "", d.KnownHosts, def.KnownHosts),
		Community:   lo.Ternary(d.Community != "", d.Community, def.Community),
		SNMPVersion: lo.Ternary(d.SNMPVersion != "", d.SNMPVersion, def.SNMPVersion),
		SNMPPort:    lo.Ternary(d.SNMPPort != 0, d.SNMPPort, def.SNMPPort),
		PingCount:   lo.Ternary(d.PingCount != 0, d.PingCount, def.PingCount),
	}
	// validated at load time
	timeout := lo.Ternary(d.Timeout != "", d.Timeout, def.Timeout)
	if timeout != "" {
		t.Timeout, _ = time.ParseDuration(timeout)
	}
	return t, true
}

// NeedsPassword lists SSH-tunnelled devices that have a user but no
// password, sorted.
func (inv *Inventory) NeedsPassword() []string {
	return lo.Filter(inv.DeviceNames(), func(name string, _ int) bool {
		t, _ := inv.Target(name)
		return t.Driver == "sonic" && t.SSHUser != "" && t.SSHPassword == ""
	})
}

// SetPassword fills the SSH password of every device that lacks one.
func (inv *Inventory) SetPassword(password string) {
	for _, name := range inv.NeedsPassword() {
		inv.file.Devices[name].SSHPassword = password
	}
}

// RingNames returns all ring names, sorted.
func (inv *Inventory) RingNames() []string {
	names := lo.Keys(inv.file.Rings)
	sort.Strings(names)
	return names
}

// Ring returns the definition of a declared ring.
func (inv *Inventory) Ring(name string) (*ring.Definition, error) {
	r, ok := inv.file.Rings[name]
	if !ok || r == nil {
		return nil, fmt.Errorf("ring %s: %w", name, util.ErrNotFound)
	}
	vlans, err := util.ExpandVLANRange(r.VLANs)
	if err != nil {
		return nil, fmt.Errorf("ring %s vlans: %w", name, err)
	}
	status, err := ring.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("ring %s: %w", name, err)
	}
	return &ring.Definition{
		Name:    name,
		Head:    r.Head,
		Tail:    r.Tail,
		Members: append([]ring.Member(nil), r.Members...),
		VLANs:   vlans,
		Status:  status,
	}, nil
}

// Matcher builds the discovery matcher from the configured patterns.
func (inv *Inventory) Matcher() (*finder.PatternMatcher, error) {
	d := inv.file.Discovery
	if d.AccessPattern == "" {
		return nil, errors.New("discovery.access_pattern is not set")
	}
	m, err := finder.NewPatternMatcher(d.AccessPattern, d.AggregationPattern, inv.DeviceNames())
	if err != nil {
		return nil, err
	}
	for name, dev := range inv.file.Devices {
		switch dev.Role {
		case RoleAccess:
			m.WithRole(name, finder.KindAccess)
		case RoleAggregation:
			m.WithRole(name, finder.KindAggregation)
		}
	}
	return m, nil
}
