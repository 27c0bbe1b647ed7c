package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/toma-inventario/internal/domain"
)

func TestKeyedMutex_ExclusionPorDocumento(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Lock(ctx, 100)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.held(), "las entradas se liberan al quedar sin usuarios")
}

func TestKeyedMutex_DocumentosDistintosNoSeBloquean(t *testing.T) {
	k := NewKeyedMutex()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r1, err := k.Lock(ctx, 1)
	require.NoError(t, err)
	r2, err := k.Lock(ctx, 2)
	require.NoError(t, err)
	r1()
	r2()
}

func TestKeyedMutex_ContextoCanceladoMientrasEspera(t *testing.T) {
	k := NewKeyedMutex()
	release, err := k.Lock(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotente
	assert.Equal(t, 0, k.held())
}

type fakeLocker struct {
	name  string
	fail  error
	trace *[]string
}

func (f fakeLocker) Lock(context.Context, int64) (func(), error) {
	if f.fail != nil {
		return nil, f.fail
	}
	*f.trace = append(*f.trace, "lock "+f.name)
	return func() { *f.trace = append(*f.trace, "unlock "+f.name) }, nil
}

func TestChain_LiberaEnOrdenInverso(t *testing.T) {
	var trace []string
	c := Chain{fakeLocker{name: "a", trace: &trace}, fakeLocker{name: "b", trace: &trace}}
	release, err := c.Lock(context.Background(), 1)
	require.NoError(t, err)
	release()
	assert.Equal(t, []string{"lock a", "lock b", "unlock b", "unlock a"}, trace)
}

func TestChain_FalloLiberaLoYaObtenido(t *testing.T) {
	var trace []string
	boom := errors.New("redis caído")
	c := Chain{fakeLocker{name: "a", trace: &trace}, fakeLocker{name: "b", fail: boom, trace: &trace}}
	_, err := c.Lock(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"lock a", "unlock a"}, trace)
}

// Requiere un Redis real: TEST_REDIS_ADDR=localhost:6379.
func TestRedisLocker_SegundoDispositivoEsperaHastaTimeout(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR no definido")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	a := NewRedisLocker(rdb, 5*time.Second, nil)
	b := NewRedisLocker(rdb, 5*time.Second, nil)
	number := time.Now().UnixNano()

	release, err := a.Lock(context.Background(), number)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx, number)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict) || errors.Is(err, context.DeadlineExceeded))

	release()
	release2, err := b.Lock(context.Background(), number)
	require.NoError(t, err)
	release2()
}
