// Package assignments tracks which users actively hold each role. Counts
// feed the maxUsers admission check and the delete-role guard; the
// authorization decision path never consults them.
package assignments

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Counter stores role membership as redis sets keyed per role.
type Counter struct {
	client *redis.Client
}

// NewCounter wraps a redis client.
func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func roleKey(roleID string) string {
	return fmt.Sprintf("authd:role:%s:members", roleID)
}

// Count returns the number of users currently assigned to the role.
func (c *Counter) Count(ctx context.Context, roleID string) (int, error) {
	n, err := c.client.SCard(ctx, roleKey(roleID)).Result()
	if err != nil {
		return 0, fmt.Errorf("assignments: count %s: %w", roleID, err)
	}
	return int(n), nil
}

// Assign records the user as an active holder of the role.
func (c *Counter) Assign(ctx context.Context, roleID, userID string) error {
	if err := c.client.SAdd(ctx, roleKey(roleID), userID).Err(); err != nil {
		return fmt.Errorf("assignments: assign %s to %s: %w", userID, roleID, err)
	}
	return nil
}

// Unassign removes the user from the role.
func (c *Counter) Unassign(ctx context.Context, roleID, userID string) error {
	if err := c.client.SRem(ctx, roleKey(roleID), userID).Err(); err != nil {
		return fmt.Errorf("assignments: unassign %s from %s: %w", userID, roleID, err)
	}
	return nil
}

// Members lists the users holding the role, for the reporting view.
func (c *Counter) Members(ctx context.Context, roleID string) ([]string, error) {
	members, err := c.client.SMembers(ctx, roleKey(roleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("assignments: members %s: %w", roleID, err)
	}
	return members, nil
}
