package icmp

import (
	"errors"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressForLiteralV4(t *testing.T) {
	ip, family, err := addressForLiteral(net.ParseIP("93.184.216.34"), FamilyAny)
	require.NoError(t, err)
	assert.Equal(t, FamilyV4, family)
	assert.True(t, ip.Equal(net.ParseIP("93.184.216.34")))
}

func TestAddressForLiteralV6(t *testing.T) {
	ip, family, err := addressForLiteral(net.ParseIP("2001:db8::1"), FamilyAny)
	require.NoError(t, err)
	assert.Equal(t, FamilyV6, family)
	assert.True(t, ip.Equal(net.ParseIP("2001:db8::1")))
}

func TestAddressForLiteralPolicyMismatch(t *testing.T) {
	_, _, err := addressForLiteral(net.ParseIP("2001:db8::1"), FamilyV4)
	var hnf *HostNotFoundError
	assert.ErrorAs(t, err, &hnf)

	_, _, err = addressForLiteral(net.ParseIP("93.184.216.34"), FamilyV6)
	assert.ErrorAs(t, err, &hnf)
}

func TestFamilyQueryOrderPrefersV4ForAny(t *testing.T) {
	order := familyQueryOrder(FamilyAny)
	require.Len(t, order, 2)
	assert.Equal(t, dns.TypeA, order[0].qtype)
	assert.Equal(t, dns.TypeAAAA, order[1].qtype)
}

func TestFamilyQueryOrderSingleFamily(t *testing.T) {
	assert.Equal(t, []familyQuery{{FamilyV4, dns.TypeA}}, familyQueryOrder(FamilyV4))
	assert.Equal(t, []familyQuery{{FamilyV6, dns.TypeAAAA}}, familyQueryOrder(FamilyV6))
}

func TestTerminalResolveErrorReportsResolutionFailedOnExchangeError(t *testing.T) {
	// At least one exchange errored (e.g. the resolver was unreachable);
	// this must not be misreported as "host not found".
	err := terminalResolveError("example.test", FamilyAny, errors.New("network unreachable"))
	var rfe *ResolutionFailedError
	require.ErrorAs(t, err, &rfe)
	assert.Equal(t, "example.test", rfe.Host)
}

func TestTerminalResolveErrorReportsHostNotFoundWhenExchangesAllSucceeded(t *testing.T) {
	err := terminalResolveError("example.test", FamilyV4, nil)
	var hnf *HostNotFoundError
	require.ErrorAs(t, err, &hnf)
	assert.Equal(t, FamilyV4, hnf.Policy)
}
