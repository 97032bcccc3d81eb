package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisReleaseGate is the distributed alternative to the SQLite claim for
// deployments running several engine instances against a shared vote
// database: SET NX arbitrates the claim across processes. The claim carries
// no TTL: a crashed holder is finished by the reconciler, not by letting the
// claim lapse and re-triggering.
type RedisReleaseGate struct {
	client     *redis.Client
	instanceID string
}

func NewRedisReleaseGate(client *redis.Client, instanceID string) *RedisReleaseGate {
	return &RedisReleaseGate{client: client, instanceID: instanceID}
}

func releaseClaimKey(campaignID string) string {
	return "escrow:release:claim:" + campaignID
}

// ClaimRelease atomically claims the release trigger for a campaign across
// all engine instances. Returns true for exactly one caller.
func (g *RedisReleaseGate) ClaimRelease(ctx context.Context, campaignID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, releaseClaimKey(campaignID), g.instanceID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return ok, nil
}

// ClaimHolder reports which instance holds the claim, for ops forensics.
func (g *RedisReleaseGate) ClaimHolder(ctx context.Context, campaignID string) (string, error) {
	holder, err := g.client.Get(ctx, releaseClaimKey(campaignID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return holder, nil
}
