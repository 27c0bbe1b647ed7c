package inventory

import (
	"context"
	"fmt"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/validate"
)

// QueryUseCase lectura de la caché local de documentos.
type QueryUseCase struct {
	docRepo repository.DocumentRepository
}

func NewQueryUseCase(docRepo repository.DocumentRepository) *QueryUseCase {
	return &QueryUseCase{docRepo: docRepo}
}

// GetDocument devuelve una toma local o ErrNotFound.
func (uc *QueryUseCase) GetDocument(ctx context.Context, number int64) (*dto.DocumentResponse, error) {
	doc, err := uc.docRepo.Get(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("obtener toma %d: %w", number, err)
	}
	if doc == nil {
		return nil, domain.NewError(domain.ErrNotFound, "obtener toma", fmt.Sprintf("toma %d no encontrada", number))
	}
	res := ToDocumentResponse(*doc)
	return &res, nil
}

// ListDocuments lista tomas locales por estado y sucursal, ordenadas por número y paginadas.
func (uc *QueryUseCase) ListDocuments(ctx context.Context, in dto.DocumentListRequest) (*dto.DocumentListResponse, error) {
	in.DefaultPage()
	if err := validate.Struct("listar tomas", in); err != nil {
		return nil, err
	}
	filter := repository.DocumentFilter{Status: entity.DocumentStatus(in.Status), Branch: in.Branch}
	total, err := uc.docRepo.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("contar tomas: %w", err)
	}
	res := &dto.DocumentListResponse{
		Items: []dto.DocumentResponse{},
		Page:  dto.PageResponse{Limit: in.Limit, Offset: in.Offset, Total: total},
	}
	if in.Offset >= total {
		return res, nil
	}
	filter.Limit, filter.Offset = in.Limit, in.Offset
	docs, err := uc.docRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listar tomas: %w", err)
	}
	for _, d := range docs {
		res.Items = append(res.Items, ToDocumentResponse(d))
	}
	return res, nil
}

// ToDocumentResponse mapea un documento local a su DTO.
func ToDocumentResponse(doc entity.Document) dto.DocumentResponse {
	h := doc.Header
	res := dto.DocumentResponse{
		Number:          h.Number,
		Branch:          h.Branch,
		Deposit:         h.Deposit,
		Area:            h.Area,
		Department:      h.Department,
		Section:         h.Section,
		Family:          h.Family,
		Groups:          h.Groups,
		Visible:         h.Visible,
		TakeType:        string(h.TakeType),
		CreatedBy:       h.CreatedBy,
		CreatedAt:       h.CreatedAt,
		Status:          string(h.Status),
		ClosingOperator: h.ClosingOperator,
		ClosedAt:        h.ClosedAt,
		Lines:           make([]dto.LineResponse, len(doc.Lines)),
	}
	for i, l := range doc.Lines {
		res.Lines[i] = dto.LineResponse{
			Sequence:    l.Sequence,
			ArticleCode: l.ArticleCode,
			Description: l.ArticleDescription,
			Lot:         l.Lot,
			ExpiryDate:  l.ExpiryDate,
			Expected:    l.Expected,
			Counted:     l.Counted,
			FamilyDesc:  l.FamilyDesc,
			GroupDesc:   l.GroupDesc,
		}
	}
	return res
}
