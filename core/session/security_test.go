package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/vidchat/errors"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("secret", "Mozilla/5.0", "1.2.3.4")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("secret", "Mozilla/5.0", "1.2.3.4"))
	assert.NotEqual(t, a, Fingerprint("other", "Mozilla/5.0", "1.2.3.4"))
	assert.NotEqual(t, a, Fingerprint("secret", "Mozilla/5.0", "1.2.3.5"))
	// 分隔符防止拼接歧义
	assert.NotEqual(t, Fingerprint("s", "ab", "c"), Fingerprint("s", "a", "bc"))
}

func TestCreateSecure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, f.store.Fingerprint("UA", "1.2.3.4"), mustGet(t, f, "fingerprint:s1"))
	assert.True(t, f.mr.Exists("session:s1"))
	ok, _ = f.mr.SIsMember("ip:1.2.3.4:sessions", "s1")
	assert.True(t, ok)

	lifetime := f.store.Config().Lifetime
	for _, key := range []string{"session:s1", "fingerprint:s1", "ip:1.2.3.4:sessions"} {
		assert.Equal(t, lifetime, f.mr.TTL(key), key)
	}
}

func TestCreateSecureInvalidIP(t *testing.T) {
	f := newFixture(t, Config{})
	for _, ip := range []string{"", "not-an-ip", "999.1.1.1"} {
		ok, err := f.store.CreateSecure(context.Background(), "s1", &Session{Subject: "u1"}, "UA", ip)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, errors.ErrInvalidInput), ip)
	}
	assert.False(t, f.mr.Exists("session:s1"))
}

func TestCreateSecurePerIPLimit(t *testing.T) {
	f := newFixture(t, Config{MaxPerIP: 2})
	ctx := context.Background()

	for i := range 2 {
		ok, err := f.store.CreateSecure(ctx, fmt.Sprintf("s%d", i), &Session{Subject: "u1"}, "UA", "10.0.0.1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := f.store.CreateSecure(ctx, "s2", &Session{Subject: "u1"}, "UA", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.mr.Exists("session:s2"))

	m, err := f.store.SecurityMetrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.EventTotals[EventRateLimitExceeded])
	require.NotEmpty(t, m.RecentEvents)
	assert.Equal(t, "10.0.0.1", m.RecentEvents[0].Identifier)

	// 已过期的成员会被清理，不占名额
	f.mr.Del("session:s0")
	ok, err = f.store.CreateSecure(ctx, "s2", &Session{Subject: "u1"}, "UA", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateSecurePerIPLimitConcurrent(t *testing.T) {
	f := newFixture(t, Config{MaxPerIP: 5})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.store.CreateSecure(ctx, fmt.Sprintf("c%d", i), &Session{Subject: "u1"}, "UA", "9.9.9.9")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, created)
	members, err := f.mr.Members("ip:9.9.9.9:sessions")
	require.NoError(t, err)
	assert.Len(t, members, 5)
}

func TestValidateSecurityFingerprintMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.store.ValidateSecurity(ctx, "s1", f.store.Fingerprint("UA", "1.2.3.4"), "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.ValidateSecurity(ctx, "s1", f.store.Fingerprint("curl", "1.2.3.4"), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	sess, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Untrusted)

	// 不可信会话即使指纹正确也被拒绝
	ok, err = f.store.ValidateSecurity(ctx, "s1", f.store.Fingerprint("UA", "1.2.3.4"), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := f.store.SecurityMetrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.EventTotals[EventInvalidFingerprint])
	assert.EqualValues(t, 1, m.EventTotals[EventUntrustedAccess])
}

func TestIPChangeLimit(t *testing.T) {
	f := newFixture(t, Config{IPChangeLimit: 3})
	ctx := context.Background()
	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)
	fp := f.store.Fingerprint("UA", "1.0.0.1")

	for i, ip := range []string{"1.0.0.2", "1.0.0.3", "1.0.0.4"} {
		ok, err := f.store.ValidateSecurity(ctx, "s1", fp, ip)
		require.NoError(t, err)
		require.True(t, ok, ip)

		sess, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, sess.IPHistory, i+1)
		assert.Equal(t, ip, sess.IP)
		in, _ := f.mr.SIsMember(fmt.Sprintf("ip:%s:sessions", ip), "s1")
		assert.True(t, in)
	}

	ok, err = f.store.ValidateSecurity(ctx, "s1", fp, "1.0.0.5")
	require.NoError(t, err)
	assert.False(t, ok)

	sess, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.IPHistory, 3)
	assert.Equal(t, "1.0.0.4", sess.IP)
	assert.True(t, sess.Untrusted)

	m, err := f.store.SecurityMetrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.EventTotals[EventIPMismatch])
}

func TestVerifyRequestFollowsIPChange(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, sess, err := f.store.VerifyRequest(ctx, "s1", "UA", "1.0.0.9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", sess.Subject)

	ok, _, err = f.store.VerifyRequest(ctx, "s1", "other-agent", "1.0.0.9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSuspiciousActivityRevokesSession(t *testing.T) {
	f := newFixture(t, Config{IPChangeLimit: 3, SuspiciousThreshold: 3})
	ctx := context.Background()
	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	fp := f.store.Fingerprint("UA", "1.2.3.4")

	ok, err = f.store.ValidateSecurity(ctx, "s1", fp, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	for _, ip := range []string{"2.0.0.1", "2.0.0.2", "2.0.0.3"} {
		ok, err = f.store.ValidateSecurity(ctx, "s1", fp, ip)
		require.NoError(t, err)
		require.True(t, ok)
	}

	revoked := false
	for i := 0; i < 10 && !revoked; i++ {
		ok, err = f.store.ValidateSecurity(ctx, "s1", fp, fmt.Sprintf("3.0.0.%d", i))
		require.NoError(t, err)
		assert.False(t, ok)
		revoked, err = f.store.IsRevoked(ctx, "s1")
		require.NoError(t, err)
	}
	require.True(t, revoked)

	in, _ := f.mr.SIsMember("revoked:sessions", "s1")
	assert.True(t, in)

	m, err := f.store.SecurityMetrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.EventTotals[EventIPMismatch])
	assert.EqualValues(t, 1, m.EventTotals[EventForcedLogout])
	assert.EqualValues(t, 1, m.RevokedSessions)

	ok, err = f.store.ValidateSecurity(ctx, "s1", fp, "2.0.0.3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeBySubject(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.store.RevokeSessionsFor(ctx, "u1"))
	ok, err = f.store.ValidateSecurity(ctx, "s1", f.store.Fingerprint("UA", "1.2.3.4"), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Write(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func TestEventSinkAndRetention(t *testing.T) {
	sink := &memorySink{}
	f := newFixture(t, Config{RevokeDisabled: true}, WithEventSink(sink))
	ctx := context.Background()

	require.NoError(t, f.store.RecordSecurityEvent(ctx, EventIPMismatch, "s1", nil))
	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.store.RecordSecurityEvent(ctx, EventInvalidFingerprint, "s1", nil))

	events, err := f.store.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1, "events older than retention are trimmed")
	assert.Equal(t, EventInvalidFingerprint, events[0].Type)

	assert.Len(t, sink.events, 2)
	n, err := f.store.SuspiciousCount(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSuspiciousCountConcurrent(t *testing.T) {
	f := newFixture(t, Config{RevokeDisabled: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.store.RecordSecurityEvent(ctx, EventIPMismatch, "s1", nil))
		}()
	}
	wg.Wait()

	n, err := f.store.SuspiciousCount(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}

func mustGet(t *testing.T, f *fixture, key string) string {
	t.Helper()
	v, err := f.mr.Get(key)
	require.NoError(t, err)
	return v
}
