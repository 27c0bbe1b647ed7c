// Package cancellation anula líneas o tomas completas, primero en el almacén remoto y luego en la caché local.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/logger"
	"github.com/jhoicas/toma-inventario/pkg/validate"
)

// LastLinePolicy qué hacer con la cabecera cuando una anulación parcial deja la toma sin líneas.
type LastLinePolicy string

const (
	KeepHeader   LastLinePolicy = "keep"   // la cabecera sigue con cero líneas
	CancelHeader LastLinePolicy = "cancel" // la cabecera se anula en la misma transacción
)

// ParsePolicy interpreta la política configurada; vacío = keep.
func ParsePolicy(s string) (LastLinePolicy, error) {
	switch LastLinePolicy(s) {
	case "", KeepHeader:
		return KeepHeader, nil
	case CancelHeader:
		return CancelHeader, nil
	}
	return "", fmt.Errorf("%w: política de última línea %q", domain.ErrInvalidInput, s)
}

// Coordinator anulación parcial y total de tomas.
type Coordinator struct {
	remote  repository.RemoteStore
	local   ports.LocalTxRunner
	locker  ports.DocumentLocker
	policy  LastLinePolicy
	metrics ports.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewCoordinator construye el coordinador.
func NewCoordinator(
	remote repository.RemoteStore,
	local ports.LocalTxRunner,
	locker ports.DocumentLocker,
	policy LastLinePolicy,
	metrics ports.Metrics,
	log *logger.Logger,
) *Coordinator {
	if policy == "" {
		policy = KeepHeader
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		remote: remote, local: local, locker: locker, policy: policy,
		metrics: metrics, log: log.Component("cancellation"), now: time.Now,
	}
}

// CancelPartial borra las líneas indicadas en el almacén remoto y luego localmente, descartando sus conteos
// pendientes. El estado de la cabecera no cambia salvo que la política sea cancel y no queden líneas.
// Devuelve las líneas borradas en el remoto.
func (c *Coordinator) CancelPartial(ctx context.Context, session entity.Session, number int64, in dto.PartialCancelRequest) (int64, error) {
	const op = "anular líneas"
	if !session.Valid() {
		return 0, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}
	if err := validate.Struct(op, in); err != nil {
		return 0, err
	}
	sequences := uniqueSorted(in.Sequences)

	release, err := c.locker.Lock(ctx, number)
	if err != nil {
		return 0, err
	}
	defer release()

	now := c.now().UTC()
	var (
		deleted         int64
		headerCancelled bool
	)
	err = c.remote.RunInTx(ctx, func(tx repository.RemoteTx) error {
		n, err := tx.DeleteLines(ctx, number, session.Operator, sequences)
		if err != nil {
			return err
		}
		deleted = n
		if c.policy != CancelHeader {
			return nil
		}
		left, err := tx.CountLines(ctx, number)
		if err != nil {
			return err
		}
		if left > 0 {
			return nil
		}
		if _, err := tx.CancelHeader(ctx, number, session.Operator, now); err != nil {
			return err
		}
		headerCancelled = true
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Int64("document", number).Ints("sequences", sequences).Msg("anulación parcial rechazada")
		return 0, err
	}
	if headerCancelled {
		c.metrics.DocumentTransition(entity.StatusCancelled)
	}

	err = c.local.Run(ctx, func(docRepo repository.DocumentRepository, countRepo repository.CountLogRepository) error {
		if _, err := docRepo.DeleteLines(ctx, number, sequences); err != nil {
			return err
		}
		if _, err := countRepo.DiscardLines(ctx, number, sequences); err != nil {
			return err
		}
		if !headerCancelled {
			return nil
		}
		if err := docRepo.UpdateStatus(ctx, number, entity.StatusCancelled, session.Operator, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Int64("document", number).Msg("líneas anuladas en remoto pero no localmente")
		return deleted, fmt.Errorf("anular líneas de %d localmente: %w", number, err)
	}
	c.log.Info().Int64("document", number).Int64("deleted", deleted).Bool("header_cancelled", headerCancelled).
		Msg("líneas anuladas")
	return deleted, nil
}

// CancelTotal anula la cabecera en el almacén remoto (fecha de cierre y operador) y después la refleja
// localmente, descartando los conteos pendientes. Una toma ya terminal devuelve ErrStateConflict sin tocar el remoto.
func (c *Coordinator) CancelTotal(ctx context.Context, session entity.Session, number int64) (int64, error) {
	const op = "anular toma"
	if !session.Valid() {
		return 0, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}

	release, err := c.locker.Lock(ctx, number)
	if err != nil {
		return 0, err
	}
	defer release()

	now := c.now().UTC()
	var affected int64
	err = c.remote.RunInTx(ctx, func(tx repository.RemoteTx) error {
		h, err := tx.LockHeader(ctx, number)
		if err != nil {
			return err
		}
		if h == nil {
			return domain.NewError(domain.ErrNotFound, op, fmt.Sprintf("toma %d inexistente en el almacén remoto", number))
		}
		if h.Status.IsTerminal() {
			return domain.NewError(domain.ErrStateConflict, op, fmt.Sprintf("toma %d ya en estado %s", number, h.Status))
		}
		affected, err = tx.CancelHeader(ctx, number, session.Operator, now)
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Int64("document", number).Str("operator", session.Operator).Msg("anulación rechazada")
		return 0, err
	}
	c.metrics.DocumentTransition(entity.StatusCancelled)

	err = c.local.Run(ctx, func(docRepo repository.DocumentRepository, countRepo repository.CountLogRepository) error {
		if err := docRepo.UpdateStatus(ctx, number, entity.StatusCancelled, session.Operator, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		_, err := countRepo.DiscardLines(ctx, number, nil)
		return err
	})
	if err != nil {
		c.log.Error().Err(err).Int64("document", number).Msg("toma anulada en remoto pero no localmente")
		return affected, fmt.Errorf("anular toma %d localmente: %w", number, err)
	}
	c.log.Info().Int64("document", number).Str("operator", session.Operator).Msg("toma anulada")
	return affected, nil
}

func uniqueSorted(seqs []int) []int {
	seen := make(map[int]struct{}, len(seqs))
	out := make([]int, 0, len(seqs))
	for _, s := range seqs {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
