package lock

import (
	"context"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
)

// Chain combina varios lockers: los obtiene en orden y los libera en orden inverso.
// Típicamente el mutex en proceso primero y Redis después, para no competir en Redis desde el mismo proceso.
type Chain []ports.DocumentLocker

var _ ports.DocumentLocker = Chain(nil)

func (c Chain) Lock(ctx context.Context, number int64) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, err := l.Lock(ctx, number)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
