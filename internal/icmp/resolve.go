package icmp

import (
	"context"
	"net"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// resolver looks up a host name for a given family policy. It is
// satisfied by dnsResolver in production and stubbed out in tests.
type resolver interface {
	// resolve returns one address whose family matches policy, or an
	// error. It must honor ctx cancellation: once ctx is done, resolve
	// must not return a success.
	resolve(ctx context.Context, host string, policy Family) (net.IP, Family, error)
}

// dnsResolver resolves host names by querying the first nameserver
// configured in /etc/resolv.conf directly with miekg/dns (the other
// configured nameservers are not tried), rather than going through
// net.Resolver's implicit connection pool. This gives the engine explicit
// control over query order per family policy: for a FamilyAny policy, A
// is queried before AAAA, mirroring the IPv4-first preference of most
// getaddrinfo implementations.
type dnsResolver struct {
	client *dns.Client
	log    *logrus.Entry
}

func newDNSResolver(log *logrus.Entry) *dnsResolver {
	return &dnsResolver{
		client: &dns.Client{Net: "udp"},
		log:    log,
	}
}

func (r *dnsResolver) resolve(ctx context.Context, host string, policy Family) (net.IP, Family, error) {
	if ip := net.ParseIP(host); ip != nil {
		return addressForLiteral(ip, policy)
	}

	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return nil, 0, newResolutionFailedError(host, err)
	}
	server := net.JoinHostPort(cfg.Servers[0], cfg.Port)

	queries := familyQueryOrder(policy)
	var lastExchangeErr error
	for _, q := range queries {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}

		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), q.qtype)
		msg.RecursionDesired = true

		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			r.log.WithError(err).WithField("qtype", q.qtype).Debug("dns exchange failed")
			lastExchangeErr = err
			continue
		}
		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				return rec.A, FamilyV4, nil
			case *dns.AAAA:
				return rec.AAAA, FamilyV6, nil
			}
		}
	}
	return nil, 0, terminalResolveError(host, policy, lastExchangeErr)
}

// terminalResolveError classifies why resolve found nothing: a
// communication failure on at least one exchange is reported as
// resolution-failed (with the last such failure as cause), distinct from
// every exchange succeeding with no matching record, which is
// host-not-found. Conflating the two would misreport "the resolver is
// unreachable" as "the name doesn't exist."
func terminalResolveError(host string, policy Family, lastExchangeErr error) error {
	if lastExchangeErr != nil {
		return newResolutionFailedError(host, lastExchangeErr)
	}
	return &HostNotFoundError{Host: host, Policy: policy}
}

type familyQuery struct {
	family Family
	qtype  uint16
}

func familyQueryOrder(policy Family) []familyQuery {
	switch policy {
	case FamilyV4:
		return []familyQuery{{FamilyV4, dns.TypeA}}
	case FamilyV6:
		return []familyQuery{{FamilyV6, dns.TypeAAAA}}
	default:
		return []familyQuery{{FamilyV4, dns.TypeA}, {FamilyV6, dns.TypeAAAA}}
	}
}

func addressForLiteral(ip net.IP, policy Family) (net.IP, Family, error) {
	if v4 := ip.To4(); v4 != nil {
		if policy == FamilyV6 {
			return nil, 0, &HostNotFoundError{Host: ip.String(), Policy: policy}
		}
		return v4, FamilyV4, nil
	}
	if policy == FamilyV4 {
		return nil, 0, &HostNotFoundError{Host: ip.String(), Policy: policy}
	}
	return ip, FamilyV6, nil
}
