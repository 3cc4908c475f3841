package sonic

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// PortStateEntry is the subset of STATE_DB PORT_TABLE fields we read.
type PortStateEntry struct {
	AdminStatus string `json:"admin_status,omitempty"`
	OperStatus  string `json:"oper_status,omitempty"`
}

// StateDBClient wraps Redis client for state_db access (DB 6).
type StateDBClient struct {
	client *redis.Client
}

// NewStateDBClient creates a new state_db client
func NewStateDBClient(addr string) *StateDBClient {
	return &StateDBClient{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   StateDBIndex,
		}),
	}
}

// Connect tests the connection
func (c *StateDBClient) Connect(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection
func (c *StateDBClient) Close() error {
	return c.client.Close()
}

// PortStates reads PORT_TABLE for every port.
func (c *StateDBClient) PortStates(ctx context.Context) (map[string]PortStateEntry, error) {
	keys, err := scanKeys(ctx, c.client, "PORT_TABLE|*", 100)
	if err != nil {
		return nil, fmt.Errorf("scanning PORT_TABLE: %w", err)
	}

	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading PORT_TABLE: %w", err)
	}

	states := make(map[string]PortStateEntry, len(keys))
	for key, cmd := range cmds {
		vals := cmd.Val()
		states[strings.TrimPrefix(key, "PORT_TABLE|")] = PortStateEntry{
			AdminStatus: vals["admin_status"],
			OperStatus:  vals["oper_status"],
		}
	}
	return states, nil
}

// GetPortState returns operational state for a specific interface from PORT_TABLE.
func (c *StateDBClient) GetPortState(ctx context.Context, name string) (*PortStateEntry, error) {
	vals, err := c.client.HGetAll(ctx, "PORT_TABLE|"+name).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("interface %s not found in state_db PORT_TABLE", name)
	}
	return &PortStateEntry{
		AdminStatus: vals["admin_status"],
		OperStatus:  vals["oper_status"],
	}, nil
}
