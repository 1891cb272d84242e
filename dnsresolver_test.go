package protocol

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveResolver pumps Update until no resolutions are pending.
func driveResolver(t *testing.T, r *DNSResolver) {
	t.Helper()
	timeBase := TimeBase{DeltaTime: 0.001}
	for i := 0; i < 5000; i++ {
		r.Update(timeBase)
		if r.NumPending() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
		timeBase.Time += timeBase.DeltaTime
	}
	t.Fatal("resolver did not finish")
}

func TestDNSResolverSuccess(t *testing.T) {
	r := NewDNSResolver(false, nil)
	r.SetLookupFunc(func(ctx context.Context, host string) ([]net.IP, error) {
		assert.Equal(t, "example.test", host)
		return []net.IP{net.ParseIP("10.1.2.3"), net.ParseIP("10.1.2.4")}, nil
	})

	r.Resolve("example.test:5000")
	entry := r.GetEntry("example.test:5000")
	require.NotNil(t, entry)
	assert.Equal(t, ResolveInProgress, entry.Status)

	driveResolver(t, r)

	assert.Equal(t, ResolveSucceeded, entry.Status)
	require.Len(t, entry.Result.Addresses, 2)
	assert.Equal(t, "10.1.2.3:5000", entry.Result.Addresses[0].String())
	assert.Equal(t, "10.1.2.4:5000", entry.Result.Addresses[1].String())
}

func TestDNSResolverFailure(t *testing.T) {
	r := NewDNSResolver(false, nil)
	r.SetLookupFunc(func(ctx context.Context, host string) ([]net.IP, error) {
		return nil, errors.New("no such host")
	})

	r.Resolve("missing.test")
	driveResolver(t, r)

	entry := r.GetEntry("missing.test")
	require.NotNil(t, entry)
	assert.Equal(t, ResolveFailed, entry.Status)
	assert.Empty(t, entry.Result.Addresses)
}

func TestDNSResolverIPv4FilterAndCap(t *testing.T) {
	r := NewDNSResolver(false, nil)
	r.SetLookupFunc(func(ctx context.Context, host string) ([]net.IP, error) {
		ips := []net.IP{net.ParseIP("::1")}
		for i := 0; i < MaxResolveAddresses+8; i++ {
			ips = append(ips, net.IPv4(10, 0, 0, byte(i+1)))
		}
		return ips, nil
	})

	r.Resolve("many.test")
	driveResolver(t, r)

	entry := r.GetEntry("many.test")
	require.Equal(t, ResolveSucceeded, entry.Status)
	assert.Len(t, entry.Result.Addresses, MaxResolveAddresses)
	for _, address := range entry.Result.Addresses {
		assert.False(t, address.IsIPv6())
	}
}

func TestDNSResolverKnownNameIsNoOp(t *testing.T) {
	var calls atomic.Int32
	r := NewDNSResolver(true, nil)
	r.SetLookupFunc(func(ctx context.Context, host string) ([]net.IP, error) {
		calls.Add(1)
		return []net.IP{net.ParseIP("::1")}, nil
	})

	r.Resolve("once.test")
	driveResolver(t, r)
	r.Resolve("once.test")
	r.Update(TimeBase{})

	assert.Equal(t, int32(1), calls.Load())
}

func TestDNSResolverClear(t *testing.T) {
	r := NewDNSResolver(false, nil)
	r.SetLookupFunc(func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.1")}, nil
	})

	r.Resolve("gone.test")
	driveResolver(t, r)
	require.NotNil(t, r.GetEntry("gone.test"))

	r.Clear()
	assert.Nil(t, r.GetEntry("gone.test"))
	assert.Equal(t, 0, r.NumPending())
}

func TestSplitNamePort(t *testing.T) {
	host, port := splitNamePort("example.test:5000")
	assert.Equal(t, "example.test", host)
	assert.Equal(t, uint16(5000), port)

	host, port = splitNamePort("example.test")
	assert.Equal(t, "example.test", host)
	assert.Equal(t, uint16(0), port)
}
