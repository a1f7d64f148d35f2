package dns

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/route53"

	apperrors "drguard/internal/errors"
)

// Route53Provider implements Provider on AWS Route 53
type Route53Provider struct {
	client       *route53.Route53
	hostedZoneID string
	interval     time.Duration
	timeout      time.Duration
	resolver     *net.Resolver

	mu           sync.Mutex
	lastChangeID string
}

// NewRoute53Provider creates a Route 53 DNS provider
func NewRoute53Provider(config *Config) (*Route53Provider, error) {
	if config.HostedZoneID == "" {
		return nil, apperrors.NewConfigurationError("Route 53 requires a hosted zone ID", nil)
	}
	config.SetDefaults()

	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to create AWS session", err)
	}

	return &Route53Provider{
		client:       route53.New(sess),
		hostedZoneID: config.HostedZoneID,
		interval:     config.CheckInterval,
		timeout:      config.CheckTimeout,
		resolver:     net.DefaultResolver,
	}, nil
}

// Upsert creates or updates the record
func (p *Route53Provider) Upsert(ctx context.Context, rec Record) error {
	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.hostedZoneID),
		ChangeBatch: &route53.ChangeBatch{
			Changes: []*route53.Change{
				{
					Action: aws.String(route53.ChangeActionUpsert),
					ResourceRecordSet: &route53.ResourceRecordSet{
						Name: aws.String(rec.Name),
						Type: aws.String(string(rec.Type)),
						TTL:  aws.Int64(int64(rec.TTL)),
						ResourceRecords: []*route53.ResourceRecord{
							{Value: aws.String(rec.Target)},
						},
					},
				},
			},
		},
	}

	result, err := p.client.ChangeResourceRecordSetsWithContext(ctx, input)
	if err != nil {
		return apperrors.NewConnectivityError("failed to upsert DNS record "+rec.Name, err)
	}

	p.mu.Lock()
	p.lastChangeID = aws.StringValue(result.ChangeInfo.Id)
	p.mu.Unlock()
	return nil
}

// WaitForPropagation blocks until Route 53 reports the change INSYNC and
// the record resolves to its target, or the timeout expires
func (p *Route53Provider) WaitForPropagation(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	changeID := p.lastChangeID
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		synced := changeID == ""
		if changeID != "" {
			result, err := p.client.GetChangeWithContext(ctx, &route53.GetChangeInput{
				Id: aws.String(changeID),
			})
			if err == nil && aws.StringValue(result.ChangeInfo.Status) == route53.ChangeStatusInsync {
				synced = true
			}
		}

		if synced && p.resolvesToTarget(ctx, rec) {
			return nil
		}

		select {
		case <-ctx.Done():
			return apperrors.NewTimeoutError("DNS propagation for "+rec.Name+" did not complete in time", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Route53Provider) resolvesToTarget(ctx context.Context, rec Record) bool {
	switch rec.Type {
	case RecordTypeCNAME:
		cname, err := p.resolver.LookupCNAME(ctx, rec.Name)
		if err != nil {
			return false
		}
		return strings.TrimSuffix(cname, ".") == strings.TrimSuffix(rec.Target, ".")
	default:
		addrs, err := p.resolver.LookupHost(ctx, rec.Name)
		if err != nil {
			return false
		}
		for _, addr := range addrs {
			if addr == rec.Target {
				return true
			}
		}
		return false
	}
}
