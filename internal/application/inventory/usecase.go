package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/logger"
	"github.com/jhoicas/toma-inventario/pkg/validate"
)

// CreateDocumentUseCase da de alta una toma: número, cabecera y detalle en una sola transacción remota.
type CreateDocumentUseCase struct {
	remote  repository.RemoteStore
	docRepo repository.DocumentRepository
	locker  ports.DocumentLocker
	metrics ports.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewCreateDocumentUseCase construye el caso de uso.
func NewCreateDocumentUseCase(
	remote repository.RemoteStore,
	docRepo repository.DocumentRepository,
	locker ports.DocumentLocker,
	metrics ports.Metrics,
	log *logger.Logger,
) *CreateDocumentUseCase {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CreateDocumentUseCase{
		remote: remote, docRepo: docRepo, locker: locker, metrics: metrics,
		log: log.Component("create_document"), now: time.Now,
	}
}

// CreateDocument valida la entrada y, dentro de una transacción remota, reserva el número, toma el
// bloqueo del documento, inserta la cabecera (active) y las líneas 1..N en el orden recibido.
// Si las filas escritas no son N la transacción se revierte con ErrIntegrity.
// Tras el commit el documento se guarda en la caché local; si eso falla se devuelve el resultado junto con el error.
func (uc *CreateDocumentUseCase) CreateDocument(ctx context.Context, session entity.Session, in dto.CreateDocumentRequest) (*dto.CreateDocumentResponse, error) {
	const op = "crear toma"
	if !session.Valid() {
		return nil, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}
	if err := validateCreate(op, in); err != nil {
		return nil, err
	}
	if session.Branch > 0 && in.Selection.Branch != session.Branch {
		return nil, domain.NewError(domain.ErrForbidden, op,
			fmt.Sprintf("la sucursal %d no corresponde a la sesión", in.Selection.Branch))
	}

	takeType := entity.TakeType(in.TakeType)
	if takeType == "" {
		takeType = entity.TakeManual
	}
	now := uc.now().UTC()

	var (
		doc     entity.Document
		release func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := uc.remote.RunInTx(ctx, func(tx repository.RemoteTx) error {
		number, err := tx.NextDocumentNumber(ctx)
		if err != nil {
			return err
		}
		// El bloqueo se mantiene hasta guardar la copia local.
		release, err = uc.locker.Lock(ctx, number)
		if err != nil {
			return err
		}

		header := entity.InventoryDocument{
			Number:          number,
			Branch:          in.Selection.Branch,
			Deposit:         in.Selection.Deposit,
			Area:            in.Selection.Area,
			Department:      in.Selection.Department,
			Section:         in.Selection.Section,
			Family:          in.Selection.Family,
			Groups:          in.Selection.Groups,
			Visible:         in.Visible,
			TakeType:        takeType,
			CreatedBy:       session.Operator,
			CreatedAt:       now,
			Status:          entity.StatusActive,
			ClosingOperator: session.Operator,
		}
		if err := tx.InsertHeader(ctx, header); err != nil {
			return err
		}

		lines := entity.AssignSequences(number, toLines(in.Articles))
		written, err := tx.InsertLines(ctx, lines)
		if err != nil {
			return err
		}
		if written != int64(len(lines)) {
			return domain.NewError(domain.ErrIntegrity, op,
				fmt.Sprintf("se escribieron %d líneas de %d", written, len(lines)))
		}
		doc = entity.Document{Header: header, Lines: lines}
		return nil
	})
	if err != nil {
		uc.log.Error().Err(err).Str("operator", session.Operator).Msg("alta de toma revertida")
		return nil, err
	}
	uc.metrics.DocumentTransition(entity.StatusActive)

	res := &dto.CreateDocumentResponse{Number: doc.Header.Number, LinesWritten: int64(len(doc.Lines))}
	if err := uc.docRepo.Save(ctx, doc); err != nil {
		uc.log.Error().Err(err).Int64("document", res.Number).Msg("toma confirmada en remoto pero no guardada localmente")
		return res, fmt.Errorf("guardar toma %d localmente: %w", res.Number, err)
	}
	uc.log.Info().Int64("document", res.Number).Int64("lines", res.LinesWritten).Msg("toma creada")
	return res, nil
}

func validateCreate(op string, in dto.CreateDocumentRequest) error {
	if err := validate.Struct(op, in); err != nil {
		return err
	}
	if len(in.Selection.Groups) > 0 && in.Selection.Family == nil {
		return domain.NewError(domain.ErrInvalidInput, op, "los grupos requieren una familia")
	}
	for i, a := range in.Articles {
		if a.Expected.IsNegative() {
			return domain.NewError(domain.ErrInvalidInput, op,
				fmt.Sprintf("articles[%d]: cantidad esperada negativa", i))
		}
	}
	return nil
}

func toLines(articles []dto.ArticleRequest) []entity.InventoryLine {
	out := make([]entity.InventoryLine, len(articles))
	for i, a := range articles {
		out[i] = entity.InventoryLine{
			ArticleCode:        a.ArticleCode,
			ArticleDescription: a.Description,
			Lot:                a.Lot,
			ExpiryDate:         a.ExpiryDate,
			Expected:           a.Expected,
			AreaDesc:           a.AreaDesc,
			DepartmentDesc:     a.DepartmentDesc,
			SectionDesc:        a.SectionDesc,
			FamilyDesc:         a.FamilyDesc,
			GroupDesc:          a.GroupDesc,
		}
	}
	return out
}
