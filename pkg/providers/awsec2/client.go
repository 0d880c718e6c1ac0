// Package awsec2 adapts the engine's provider contract to the EC2
// security-group rule API.
package awsec2

import (
	"context"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// EC2API defines the EC2 operations for ingress rule management.
type EC2API interface {
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
	ModifySecurityGroupRules(ctx context.Context, params *ec2.ModifySecurityGroupRulesInput, optFns ...func(*ec2.Options)) (*ec2.ModifySecurityGroupRulesOutput, error)
}

// clientCache resolves and pools one EC2 client per region. Requests carry
// their own region, so a single provider instance serves every region the
// store references.
type clientCache struct {
	mu      sync.Mutex
	clients map[string]EC2API

	// newClient builds a client for a region; replaced in tests.
	newClient func(ctx context.Context, region string) (EC2API, error)
}

func newClientCache() *clientCache {
	return &clientCache{
		clients: make(map[string]EC2API),
		newClient: func(ctx context.Context, region string) (EC2API, error) {
			cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config for %s: %w", region, err)
			}
			return ec2.NewFromConfig(cfg), nil
		},
	}
}

// clientFor returns the cached client for a region, creating it on first
// use.
func (c *clientCache) clientFor(ctx context.Context, region string) (EC2API, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[region]; ok {
		return client, nil
	}

	client, err := c.newClient(ctx, region)
	if err != nil {
		return nil, err
	}
	c.clients[region] = client
	return client, nil
}
