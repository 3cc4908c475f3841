// Package sonic implements the ring probe for SONiC switches by reading and
// writing CONFIG_DB and STATE_DB over Redis.
package sonic

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Redis database numbers used by SONiC.
const (
	ConfigDBIndex = 4
	StateDBIndex  = 6
)

// PortEntry is the subset of CONFIG_DB PORT fields the ring logic uses.
type PortEntry struct {
	AdminStatus string `json:"admin_status,omitempty"`
	Description string `json:"description,omitempty"`
}

// VLANMemberEntry represents VLAN_MEMBER|Vlan<id>|<port>.
type VLANMemberEntry struct {
	TaggingMode string `json:"tagging_mode"` // tagged, untagged
}

// ConfigDBClient wraps a Redis client for CONFIG_DB access.
type ConfigDBClient struct {
	client *redis.Client
}

// NewConfigDBClient creates a new config_db client
func NewConfigDBClient(addr string) *ConfigDBClient {
	return &ConfigDBClient{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   ConfigDBIndex,
		}),
	}
}

// Connect tests the connection
func (c *ConfigDBClient) Connect(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection
func (c *ConfigDBClient) Close() error {
	return c.client.Close()
}

// Ports reads every PORT entry keyed by interface name.
func (c *ConfigDBClient) Ports(ctx context.Context) (map[string]PortEntry, error) {
	keys, err := scanKeys(ctx, c.client, "PORT|*", 100)
	if err != nil {
		return nil, fmt.Errorf("scanning PORT: %w", err)
	}

	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading PORT: %w", err)
	}

	ports := make(map[string]PortEntry, len(keys))
	for key, cmd := range cmds {
		vals := cmd.Val()
		name := strings.TrimPrefix(key, "PORT|")
		ports[name] = PortEntry{
			AdminStatus: vals["admin_status"],
			Description: vals["description"],
		}
	}
	return ports, nil
}

// VLANMembership returns, for every port, the sorted VLAN IDs it is a member of.
func (c *ConfigDBClient) VLANMembership(ctx context.Context) (map[string][]int, error) {
	keys, err := scanKeys(ctx, c.client, "VLAN_MEMBER|*", 100)
	if err != nil {
		return nil, fmt.Errorf("scanning VLAN_MEMBER: %w", err)
	}

	members := make(map[string][]int)
	for _, key := range keys {
		vlan, port, ok := parseVLANMemberKey(key)
		if !ok {
			continue
		}
		members[port] = append(members[port], vlan)
	}
	for port := range members {
		sort.Ints(members[port])
	}
	return members, nil
}

// SetAdminStatus writes PORT|<port> admin_status.
func (c *ConfigDBClient) SetAdminStatus(ctx context.Context, port, status string) error {
	return c.Set(ctx, "PORT", port, map[string]string{"admin_status": status})
}

// AddVLANMember ensures VLAN|Vlan<id> exists and adds the port to it.
func (c *ConfigDBClient) AddVLANMember(ctx context.Context, vlan int, port string, tagged bool) error {
	vlanKey := VLANName(vlan)
	exists, err := c.Exists(ctx, "VLAN", vlanKey)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.Set(ctx, "VLAN", vlanKey, map[string]string{"vlanid": strconv.Itoa(vlan)}); err != nil {
			return fmt.Errorf("creating %s: %w", vlanKey, err)
		}
	}

	mode := "untagged"
	if tagged {
		mode = "tagged"
	}
	return c.Set(ctx, "VLAN_MEMBER", vlanKey+"|"+port, map[string]string{"tagging_mode": mode})
}

// RemoveVLANMember deletes VLAN_MEMBER|Vlan<id>|<port>. The VLAN itself is kept.
func (c *ConfigDBClient) RemoveVLANMember(ctx context.Context, vlan int, port string) error {
	return c.Delete(ctx, "VLAN_MEMBER", VLANName(vlan)+"|"+port)
}

// Set writes a table entry. If fields is empty, a "NULL":"NULL" sentinel is
// written so the Redis key is actually created.
func (c *ConfigDBClient) Set(ctx context.Context, table, key string, fields map[string]string) error {
	redisKey := fmt.Sprintf("%s|%s", table, key)
	if len(fields) == 0 {
		return c.client.HSet(ctx, redisKey, "NULL", "NULL").Err()
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.client.HSet(ctx, redisKey, args...).Err()
}

// Delete removes a table entry
func (c *ConfigDBClient) Delete(ctx context.Context, table, key string) error {
	return c.client.Del(ctx, fmt.Sprintf("%s|%s", table, key)).Err()
}

// Exists checks if a key exists
func (c *ConfigDBClient) Exists(ctx context.Context, table, key string) (bool, error) {
	n, err := c.client.Exists(ctx, fmt.Sprintf("%s|%s", table, key)).Result()
	return n > 0, err
}

// VLANName returns the SONiC VLAN key for an ID ("Vlan100").
func VLANName(id int) string {
	return "Vlan" + strconv.Itoa(id)
}

// parseVLANMemberKey splits "VLAN_MEMBER|Vlan100|Ethernet0".
func parseVLANMemberKey(key string) (vlan int, port string, ok bool) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 || parts[0] != "VLAN_MEMBER" || !strings.HasPrefix(parts[1], "Vlan") {
		return 0, "", false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(parts[1], "Vlan"))
	if err != nil {
		return 0, "", false
	}
	return id, parts[2], true
}

// scanKeys collects all keys matching pattern with cursor-based SCAN.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
