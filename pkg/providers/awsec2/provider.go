package awsec2

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/sgward/sgward/pkg/engine"
	"github.com/sgward/sgward/pkg/rule"
	"github.com/sgward/sgward/pkg/telemetry"
)

// Provider implements engine.Provider against the EC2 API.
//
// EC2 reports the outcome of a rule mutation through the response's Return
// flag: false is a definitive refusal, which the engine books as a FAILED_*
// state. API errors are classified instead, so a throttled or timed-out
// call is retried on a later cycle rather than booked as a failure.
type Provider struct {
	cache  *clientCache
	logger *telemetry.Logger
}

var _ engine.Provider = (*Provider)(nil)

// New creates a provider that builds one EC2 client per region from the
// ambient AWS credential chain.
func New(logger *telemetry.Logger) *Provider {
	return &Provider{
		cache:  newClientCache(),
		logger: logger.NewComponentLogger("awsec2"),
	}
}

// NewWithClients creates a provider with fixed per-region clients, used by
// tests.
func NewWithClients(logger *telemetry.Logger, clients map[string]EC2API) *Provider {
	cache := newClientCache()
	for region, client := range clients {
		cache.clients[region] = client
	}
	return &Provider{
		cache:  cache,
		logger: logger.NewComponentLogger("awsec2"),
	}
}

// ipPermission builds the permission for a create or revoke call. The
// source is sent as a group reference or as a CIDR range, never both.
func ipPermission(r *engine.Request) ec2types.IpPermission {
	perm := ec2types.IpPermission{
		FromPort:   aws.Int32(r.Port),
		ToPort:     aws.Int32(r.Port),
		IpProtocol: aws.String(r.Protocol.Wire()),
	}
	if rule.IsGroupRef(r.Source) {
		perm.UserIdGroupPairs = []ec2types.UserIdGroupPair{
			{GroupId: aws.String(r.Source)},
		}
	} else {
		perm.IpRanges = []ec2types.IpRange{
			{CidrIp: aws.String(r.Source)},
		}
	}
	return perm
}

// CreateRule authorizes a new ingress rule on the request's group.
func (p *Provider) CreateRule(ctx context.Context, r *engine.Request) (engine.MutationResult, error) {
	client, err := p.cache.clientFor(ctx, r.Region)
	if err != nil {
		return engine.MutationResult{}, classify(err, engine.OpCreate, r.ID)
	}

	out, err := client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(r.GroupID),
		IpPermissions: []ec2types.IpPermission{ipPermission(r)},
	})
	if err != nil {
		return engine.MutationResult{}, classify(err, engine.OpCreate, r.ID)
	}

	res := engine.MutationResult{Applied: aws.ToBool(out.Return)}
	if len(out.SecurityGroupRules) > 0 {
		res.RuleID = aws.ToString(out.SecurityGroupRules[0].SecurityGroupRuleId)
	}
	return res, nil
}

// ModifyRule updates the rule identified by the request's RuleID in place.
func (p *Provider) ModifyRule(ctx context.Context, r *engine.Request) (engine.MutationResult, error) {
	client, err := p.cache.clientFor(ctx, r.Region)
	if err != nil {
		return engine.MutationResult{}, classify(err, engine.OpModify, r.ID)
	}

	ruleReq := &ec2types.SecurityGroupRuleRequest{
		IpProtocol: aws.String(r.Protocol.Wire()),
		FromPort:   aws.Int32(r.Port),
		ToPort:     aws.Int32(r.Port),
	}
	if rule.IsGroupRef(r.Source) {
		ruleReq.ReferencedGroupId = aws.String(r.Source)
	} else {
		ruleReq.CidrIpv4 = aws.String(r.Source)
	}

	out, err := client.ModifySecurityGroupRules(ctx, &ec2.ModifySecurityGroupRulesInput{
		GroupId: aws.String(r.GroupID),
		SecurityGroupRules: []ec2types.SecurityGroupRuleUpdate{
			{
				SecurityGroupRuleId: r.RuleID,
				SecurityGroupRule:   ruleReq,
			},
		},
	})
	if err != nil {
		return engine.MutationResult{}, classify(err, engine.OpModify, r.ID)
	}

	return engine.MutationResult{Applied: aws.ToBool(out.Return)}, nil
}

// DeleteRule revokes the ingress rule described by the request.
func (p *Provider) DeleteRule(ctx context.Context, r *engine.Request) (engine.MutationResult, error) {
	client, err := p.cache.clientFor(ctx, r.Region)
	if err != nil {
		return engine.MutationResult{}, classify(err, engine.OpDelete, r.ID)
	}

	out, err := client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:       aws.String(r.GroupID),
		IpPermissions: []ec2types.IpPermission{ipPermission(r)},
	})
	if err != nil {
		return engine.MutationResult{}, classify(err, engine.OpDelete, r.ID)
	}

	return engine.MutationResult{Applied: aws.ToBool(out.Return)}, nil
}

// classify maps an EC2 call error to an engine error class. Timeouts and
// cancellations are transient: the call's outcome is ambiguous, and an
// ambiguous outcome must be re-evaluated, never booked as a failure.
func classify(err error, op string, requestID int64) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.NewTransientError("EC2 call timed out", err).
			WithOperation(op).WithRequest(requestID).WithCode(engine.ErrCodeTimeout)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded", "RequestThrottled":
			return engine.NewThrottledError("EC2 throttled the call", err).
				WithOperation(op).WithRequest(requestID)
		case "RequestTimeout", "ServiceUnavailable", "InternalError", "Unavailable":
			return engine.NewTransientError("EC2 is temporarily unavailable", err).
				WithOperation(op).WithRequest(requestID)
		default:
			return engine.NewPermanentError("EC2 rejected the call", err).
				WithOperation(op).WithRequest(requestID).WithCode(engine.ErrCodeProviderFailed)
		}
	}

	// Connectivity failures without an API error code.
	return engine.NewTransientError("EC2 call failed", err).
		WithOperation(op).WithRequest(requestID)
}
