package ingest

import (
	"context"
	"fmt"
	"strings"

	"assetcore/pkg/domain"
)

// FieldInput declares a pool field.
type FieldInput struct {
	Field    string `json:"field"`
	Editable bool   `json:"editable"`
	Manual   bool   `json:"manual"`
}

// DeclareField creates or updates the settings of a pool field.
func (s *Service) DeclareField(ctx context.Context, in FieldInput) (domain.FieldSetting, error) {
	field := strings.TrimSpace(in.Field)
	if field == "" {
		return domain.FieldSetting{}, domain.Required("field")
	}
	setting := domain.FieldSetting{Field: field, Editable: in.Editable, Manual: in.Manual}
	existing, err := s.fieldSetting(ctx, field)
	if err != nil {
		return domain.FieldSetting{}, err
	}
	if existing != nil {
		setting.ID = existing.ID
		if *existing == setting {
			return setting, nil
		}
		patch := domain.Record{"editable": setting.Editable, "manual": setting.Manual}
		if _, err := s.repo.Update(ctx, domain.TablePoolFields, existing.ID, patch); err != nil {
			return domain.FieldSetting{}, fmt.Errorf("update field %s: %w", field, err)
		}
		return setting, nil
	}
	id, err := domain.InsertEntity(ctx, s.repo, domain.TablePoolFields, setting)
	if err != nil {
		return domain.FieldSetting{}, fmt.Errorf("insert field %s: %w", field, err)
	}
	setting.ID = id
	return setting, nil
}

// ListFields returns every field setting in id order.
func (s *Service) ListFields(ctx context.Context) ([]domain.FieldSetting, error) {
	return domain.Load[domain.FieldSetting](ctx, s.repo, domain.TablePoolFields)
}

func (s *Service) fieldSetting(ctx context.Context, field string) (*domain.FieldSetting, error) {
	settings, err := s.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	for i := range settings {
		if settings[i].Field == field {
			return &settings[i], nil
		}
	}
	return nil, nil
}

// SetCell stores an override for one pool row and field. The field is
// registered when first referenced.
func (s *Service) SetCell(ctx context.Context, rowID, field, value string) (domain.CellOverride, error) {
	id, field, err := s.cellTarget(ctx, rowID, field)
	if err != nil {
		return domain.CellOverride{}, err
	}
	if existing, err := s.fieldSetting(ctx, field); err != nil {
		return domain.CellOverride{}, err
	} else if existing == nil {
		if _, err := s.DeclareField(ctx, FieldInput{Field: field}); err != nil {
			return domain.CellOverride{}, err
		}
	}

	cell := domain.CellOverride{RowID: id.String(), Field: field, Value: value}
	current, err := s.cell(ctx, cell.RowID, field)
	if err != nil {
		return domain.CellOverride{}, err
	}
	if current != nil {
		cell.ID = current.ID
		if current.Value == value {
			return cell, nil
		}
		if _, err := s.repo.Update(ctx, domain.TablePoolCells, current.ID, domain.Record{"value": value}); err != nil {
			return domain.CellOverride{}, fmt.Errorf("update cell: %w", err)
		}
		return cell, nil
	}
	cell.ID, err = domain.InsertEntity(ctx, s.repo, domain.TablePoolCells, cell)
	if err != nil {
		return domain.CellOverride{}, fmt.Errorf("insert cell: %w", err)
	}
	return cell, nil
}

// ClearCell removes the override for one pool row and field.
func (s *Service) ClearCell(ctx context.Context, rowID, field string) error {
	id, err := domain.ParseRowID(strings.TrimSpace(rowID))
	if err != nil {
		return domain.ValidationError{Field: "row_id", Message: err.Error()}
	}
	field = strings.TrimSpace(field)
	current, err := s.cell(ctx, id.String(), field)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.NotFoundError{Entity: "cell", ID: id.String() + "/" + field}
	}
	if _, err := s.repo.Remove(ctx, domain.TablePoolCells, current.ID); err != nil {
		return fmt.Errorf("remove cell: %w", err)
	}
	return nil
}

// cellTarget validates a cell address and checks that the row exists in a
// live raw table.
func (s *Service) cellTarget(ctx context.Context, rowID, field string) (domain.RowID, string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return domain.RowID{}, "", domain.Required("field")
	}
	id, err := domain.ParseRowID(strings.TrimSpace(rowID))
	if err != nil {
		return domain.RowID{}, "", domain.ValidationError{Field: "row_id", Message: err.Error()}
	}
	table, err := s.rawTable(ctx, id.TableID)
	if err != nil {
		return domain.RowID{}, "", err
	}
	if table.Archived {
		return domain.RowID{}, "", domain.NotFoundError{Entity: "raw table", ID: idString(id.TableID)}
	}
	rows, err := s.rawRows(ctx, id.TableID)
	if err != nil {
		return domain.RowID{}, "", err
	}
	for _, r := range rows {
		if domain.NewRowID(r.TableID, r.RowKey, r.RowIndex) == id {
			return id, field, nil
		}
	}
	return domain.RowID{}, "", domain.NotFoundError{Entity: "pool row", ID: id.String()}
}

func (s *Service) cell(ctx context.Context, rowID, field string) (*domain.CellOverride, error) {
	cells, err := domain.Load[domain.CellOverride](ctx, s.repo, domain.TablePoolCells)
	if err != nil {
		return nil, err
	}
	for i := range cells {
		if cells[i].RowID == rowID && cells[i].Field == field {
			return &cells[i], nil
		}
	}
	return nil, nil
}
