package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/logger"
	"github.com/jhoicas/toma-inventario/pkg/validate"
)

// RegisterCountUseCase registra cantidades contadas por un único operador en la caché local.
type RegisterCountUseCase struct {
	local   ports.LocalTxRunner
	docRepo repository.DocumentRepository
	locker  ports.DocumentLocker
	metrics ports.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewRegisterCountUseCase construye el caso de uso.
func NewRegisterCountUseCase(
	local ports.LocalTxRunner,
	docRepo repository.DocumentRepository,
	locker ports.DocumentLocker,
	metrics ports.Metrics,
	log *logger.Logger,
) *RegisterCountUseCase {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RegisterCountUseCase{
		local: local, docRepo: docRepo, locker: locker, metrics: metrics,
		log: log.Component("register_count"), now: time.Now,
	}
}

// RegisterCount guarda las cantidades contadas y pasa el documento a pending cuando todas las líneas
// tienen conteo o cuando allowGaps lo permite. El operador que registra queda como operador de cierre.
func (uc *RegisterCountUseCase) RegisterCount(ctx context.Context, session entity.Session, number int64, in dto.RegisterCountRequest) (*entity.Document, error) {
	const op = "registrar conteo"
	if !session.Valid() {
		return nil, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}
	if err := validate.Struct(op, in); err != nil {
		return nil, err
	}

	release, err := uc.locker.Lock(ctx, number)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := uc.docRepo.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.NewError(domain.ErrNotFound, op, fmt.Sprintf("toma %d", number))
	}
	if doc.Header.Status.IsTerminal() {
		return nil, domain.NewError(domain.ErrStateConflict, op,
			fmt.Sprintf("toma %d en estado %s", number, doc.Header.Status))
	}
	if err := checkCounts(op, doc, in.Counts); err != nil {
		return nil, err
	}

	var moved bool
	err = uc.local.Run(ctx, func(docRepo repository.DocumentRepository, _ repository.CountLogRepository) error {
		if _, err := docRepo.SetCounted(ctx, number, in.Counts); err != nil {
			return err
		}
		updated, err := docRepo.Get(ctx, number)
		if err != nil {
			return err
		}
		if !updated.FullyCounted() && !in.AllowGaps {
			return nil
		}
		moved = updated.Header.Status == entity.StatusActive
		return docRepo.UpdateStatus(ctx, number, entity.StatusPending, session.Operator, uc.now().UTC())
	})
	if err != nil {
		uc.log.Error().Err(err).Int64("document", number).Msg("no se pudo registrar el conteo")
		return nil, err
	}
	if moved {
		uc.metrics.DocumentTransition(entity.StatusPending)
		uc.log.Info().Int64("document", number).Str("operator", session.Operator).Msg("toma pendiente de exportar")
	}
	return uc.docRepo.Get(ctx, number)
}

func checkCounts(op string, doc *entity.Document, counts map[int]decimal.Decimal) error {
	seqs := make([]int, 0, len(counts))
	for seq := range counts {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		if _, ok := doc.Line(seq); !ok {
			return domain.NewError(domain.ErrInvalidInput, op,
				fmt.Sprintf("la toma %d no tiene la línea %d", doc.Header.Number, seq))
		}
		if counts[seq].IsNegative() {
			return domain.NewError(domain.ErrInvalidInput, op, fmt.Sprintf("línea %d: cantidad negativa", seq))
		}
	}
	return nil
}
