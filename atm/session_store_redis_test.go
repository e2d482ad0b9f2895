package atm_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/atm/models"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*atm.RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return atm.NewRedisSessionStore(client, ttl), mr
}

func TestRedisSessionStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	require.NoError(t, store.Ping(context.Background()))
	testSessionStore(t, store)
}

func TestRedisSessionStore_Expiry(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	s := models.NewSession(uuid.New().String(), johnCard, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, store.SaveSession(ctx, s))
	require.True(t, mr.Exists("atm:session:"+s.ID))

	mr.FastForward(2 * time.Minute)

	_, err := store.FindSessionByID(ctx, s.ID)
	require.ErrorIs(t, err, atm.ErrNotFound)

	open, err := store.ListOpenSessions(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, open)

	members, err := mr.ZMembers("atm:sessions:open")
	if err == nil {
		require.NotContains(t, members, s.ID)
	}
}

func TestRedisSessionStore_CloseRemovesFromOpenIndex(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	s := models.NewSession(uuid.New().String(), johnCard, time.Now().UTC())
	require.NoError(t, store.SaveSession(ctx, s))
	members, err := mr.ZMembers("atm:sessions:open")
	require.NoError(t, err)
	require.Equal(t, []string{s.ID}, members)

	require.True(t, s.Close(time.Now().UTC()))
	require.NoError(t, store.SaveSession(ctx, s))

	// an empty sorted set is deleted, so miniredis reports the key missing
	members, _ = mr.ZMembers("atm:sessions:open")
	require.Empty(t, members)
}

func TestSessionManager_RedisBackend(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	f := newFixture(t)
	ctx := context.Background()

	sessions := atm.NewSessionManager(f.bank, store, discardLogger())
	s, err := sessions.InsertCard(ctx, johnCard)
	require.NoError(t, err)

	res, err := sessions.VerifyPin(ctx, s.ID, johnPIN)
	require.NoError(t, err)
	require.True(t, res.Verified)

	_, err = sessions.SelectAccount(ctx, s.ID, "ACC002")
	require.NoError(t, err)

	change, err := sessions.Withdraw(ctx, s.ID, 100)
	require.NoError(t, err)
	require.Equal(t, int64(4900), change.NewBalance)

	closed, err := sessions.EndSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, closed)

	got, err := sessions.Session(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionClosed, got.Status)
}

func TestRedisSessionStore_OpenIndexScoredInMillis(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	first := models.NewSession(uuid.New().String(), johnCard, at)
	second := models.NewSession(uuid.New().String(), janeCard, at.Add(time.Millisecond))
	require.NoError(t, store.SaveSession(ctx, first))
	require.NoError(t, store.SaveSession(ctx, second))

	score, err := mr.ZScore("atm:sessions:open", first.ID)
	require.NoError(t, err)
	require.Equal(t, float64(at.UnixMilli()), score)

	// the cutoff is exclusive
	open, err := store.ListOpenSessions(ctx, second.CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, first.ID, open[0].ID)

	open, err = store.ListOpenSessions(ctx, second.CreatedAt.Add(time.Millisecond), 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
}
