package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestLocalTagLockerSerializesSameTag(t *testing.T) {
	l := newLocalTagLocker()
	ctx := context.Background()

	unlock1, err := l.Lock(ctx, "comfy", "v1.0")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		unlock2, err := l.Lock(ctx, "comfy", "v1.0")
		require.NoError(t, err)
		close(acquired)
		unlock2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after first released")
	}
}

func TestRedisTagLockerSerializesAcrossInstances(t *testing.T) {
	srv := miniredis.RunT(t)

	a := newRedisTagLocker(srv.Addr())
	b := newRedisTagLocker(srv.Addr())
	ctx := context.Background()

	unlockA, err := a.Lock(ctx, "comfy", "v1.0")
	require.NoError(t, err)

	ctxShort, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctxShort, "comfy", "v1.0")
	require.Error(t, err, "a second locker must not acquire the same key while the first holds it")

	unlockA()
	unlockB, err := b.Lock(ctx, "comfy", "v1.0")
	require.NoError(t, err)
	unlockB()
}
