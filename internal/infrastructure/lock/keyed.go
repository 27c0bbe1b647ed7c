// Package lock implementa la exclusión mutua por número de documento: un mutex por clave en proceso
// y, opcionalmente, un bloqueo Redis compartido entre dispositivos.
package lock

import (
	"context"
	"sync"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
)

var _ ports.DocumentLocker = (*KeyedMutex)(nil)

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex mutex por documento. Las entradas se crean bajo demanda y se liberan al quedar sin usuarios.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*keyedEntry
}

// NewKeyedMutex crea un KeyedMutex vacío.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[int64]*keyedEntry)}
}

// Lock espera el documento hasta obtenerlo o hasta que ctx termine.
func (k *KeyedMutex) Lock(ctx context.Context, number int64) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[number]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[number] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(number, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.unref(number, e)
		})
	}, nil
}

func (k *KeyedMutex) unref(number int64, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, number)
	}
}

// held cantidad de documentos con usuarios (tests).
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
