package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamhub/realtime-gateway/internal/domain"
)

func TestRegisterAddsUserGroup(t *testing.T) {
	r := New()

	n, err := r.Register("c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"c1"}, r.MembersOf("user:u1"))
	assert.Equal(t, []string{"c1"}, r.ConnectionsOf("u1"))
	assert.Equal(t, []string{"user:u1"}, r.GroupsOf("c1"))

	conn, ok := r.Connection("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", conn.UserID)
	assert.False(t, conn.EstablishedAt.IsZero())
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register("c1", "u1")
	require.NoError(t, err)

	_, err = r.Register("c1", "u2")
	assert.ErrorIs(t, err, domain.ErrDuplicateConnection)

	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.ConnectionsOf("u2"))
	assert.Equal(t, []string{"c1"}, r.ConnectionsOf("u1"))
}

func TestRegisterRejectsBadUser(t *testing.T) {
	r := New()
	_, err := r.Register("c1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
	_, err = r.Register("c1", "a:b")
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
	assert.Zero(t, r.Count())
}

func TestUnregisterRemovesAllMemberships(t *testing.T) {
	r := New()
	_, err := r.Register("c1", "u1")
	require.NoError(t, err)
	_, err = r.Join("c1", "channel:ch1")
	require.NoError(t, err)
	_, err = r.Join("c1", "workspace:w1")
	require.NoError(t, err)

	conn, groups, n, err := r.Unregister("c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", conn.UserID)
	assert.Equal(t, []string{"channel:ch1", "user:u1", "workspace:w1"}, groups)
	assert.Zero(t, n)

	assert.Empty(t, r.MembersOf("channel:ch1"))
	assert.Empty(t, r.MembersOf("workspace:w1"))
	assert.Empty(t, r.MembersOf("user:u1"))
	assert.Empty(t, r.OnlineUsers())
}

func TestUnregisterUnknown(t *testing.T) {
	r := New()
	_, _, _, err := r.Unregister("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownConnection)

	_, err = r.Register("c1", "u1")
	require.NoError(t, err)
	_, _, _, err = r.Unregister("c1")
	require.NoError(t, err)
	_, _, _, err = r.Unregister("c1")
	assert.ErrorIs(t, err, domain.ErrUnknownConnection)
}

func TestJoinErrors(t *testing.T) {
	r := New()
	_, err := r.Join("ghost", "channel:ch1")
	assert.ErrorIs(t, err, domain.ErrUnknownConnection)

	_, err = r.Register("c1", "u1")
	require.NoError(t, err)
	_, err = r.Join("c1", "room:1")
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestJoinLeaveReportFirstAndLastPerUser(t *testing.T) {
	r := New()
	_, _ = r.Register("c1", "u1")
	_, _ = r.Register("c2", "u1")

	first, err := r.Join("c1", "channel:ch1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = r.Join("c2", "channel:ch1")
	require.NoError(t, err)
	assert.False(t, first)

	first, err = r.Join("c2", "channel:ch1")
	require.NoError(t, err)
	assert.False(t, first, "rejoin is a no-op")

	assert.False(t, r.Leave("c1", "channel:ch1"))
	assert.True(t, r.Leave("c2", "channel:ch1"))
	assert.False(t, r.Leave("c2", "channel:ch1"), "leave for non-member is a no-op")
	assert.False(t, r.Leave("ghost", "channel:ch1"))
}

func TestUserGroupsAndOnlineUsers(t *testing.T) {
	r := New()
	_, _ = r.Register("c1", "u1")
	_, _ = r.Register("c2", "u1")
	_, _ = r.Register("c3", "u2")
	_, _ = r.Join("c1", "workspace:w1")
	_, _ = r.Join("c2", "workspace:w2")

	assert.Equal(t, []string{"user:u1", "workspace:w1", "workspace:w2"}, r.UserGroups("u1"))
	assert.Equal(t, []string{"u1", "u2"}, r.OnlineUsers())
	assert.Equal(t, 2, r.ConnectionCount("u1"))
	assert.Equal(t, 3, r.Count())
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("c-%d-%d", w, i)
				user := fmt.Sprintf("u%d", rng.Intn(4))
				_, err := r.Register(id, user)
				assert.NoError(t, err)
				_, err = r.Join(id, "channel:shared")
				assert.NoError(t, err)
				if i%2 == 0 {
					_, _, _, err = r.Unregister(id)
					assert.NoError(t, err)
					// second disconnect for the same id must be harmless
					_, _, _, err = r.Unregister(id)
					assert.ErrorIs(t, err, domain.ErrUnknownConnection)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker/2, r.Count())
	assert.Len(t, r.MembersOf("channel:shared"), workers*perWorker/2)

	total := 0
	for _, u := range r.OnlineUsers() {
		conns := r.ConnectionsOf(u)
		total += len(conns)
		for _, c := range conns {
			conn, ok := r.Connection(c)
			require.True(t, ok)
			assert.Equal(t, u, conn.UserID)
		}
	}
	assert.Equal(t, r.Count(), total)
	for _, c := range r.MembersOf("channel:shared") {
		_, ok := r.Connection(c)
		assert.True(t, ok, "member %s is not registered", c)
	}
}
