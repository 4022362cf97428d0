package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"gorm.io/gorm"
)

const defaultListLimit = 100

// ListOptions bounds a List query on the entity's time column
type ListOptions struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// Doc is a row handed to the sync worker without its concrete type
type Doc struct {
	ID        uint
	UpdatedAt time.Time
	Body      interface{}
}

// Syncable is the type-erased view of a repository used by the sync worker
type Syncable interface {
	Table() string
	UnsentDocs(ctx context.Context, limit int) ([]Doc, error)
	MarkDocsSent(ctx context.Context, docs []Doc) (int, error)
	CountUnsent(ctx context.Context) (int64, error)
}

// Repo is the CRUD repository for one entity table
type Repo[T Entity] struct {
	db *gorm.DB
}

// NewRepo creates a repository over db
func NewRepo[T Entity](db *gorm.DB) *Repo[T] {
	return &Repo[T]{db: db}
}

// Table returns the table name of T
func (r *Repo[T]) Table() string {
	var zero T
	return zero.TableName()
}

func (r *Repo[T]) timeColumn() string {
	var zero T
	return zero.TimeColumn()
}

// Create inserts a new row; the generated ID is written back into row
func (r *Repo[T]) Create(ctx context.Context, row *T) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create %s: %w", r.Table(), err)
	}
	return nil
}

// Get returns the row with id, or nil if there is none
func (r *Repo[T]) Get(ctx context.Context, id uint) (*T, error) {
	var row T
	err := r.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", r.Table(), id, err)
	}
	return &row, nil
}

// Update saves all fields of row and marks it unsent again
func (r *Repo[T]) Update(ctx context.Context, row *T) error {
	id := (*row).GetID()
	if id == 0 {
		return apperrors.ErrBadRequest.WithMessage("update %s: missing id", r.Table())
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperrors.ErrNotFound.WithMessage("%s %d not found", r.Table(), id)
		}
		if err := tx.Save(row).Error; err != nil {
			return fmt.Errorf("update %s %d: %w", r.Table(), id, err)
		}
		if err := tx.Model(new(T)).Where("id = ?", id).UpdateColumn("synced", false).Error; err != nil {
			return err
		}
		return tx.First(row, id).Error
	})
}

// Delete removes the row permanently
func (r *Repo[T]) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(new(T), id)
	if res.Error != nil {
		return fmt.Errorf("delete %s %d: %w", r.Table(), id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("%s %d not found", r.Table(), id)
	}
	return nil
}

// List returns rows newest first by the entity's time column
func (r *Repo[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	col := r.timeColumn()
	q := r.db.WithContext(ctx).Model(new(T))
	if opts.Since != nil {
		q = q.Where(col+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q = q.Where(col+" < ?", *opts.Until)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var rows []T
	err := q.Order(col + " DESC").Order("id DESC").Limit(limit).Offset(opts.Offset).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.Table(), err)
	}
	return rows, nil
}

// ListUnsent returns up to limit rows not yet replicated, oldest id first
func (r *Repo[T]) ListUnsent(ctx context.Context, limit int) ([]T, error) {
	var rows []T
	err := r.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list unsent %s: %w", r.Table(), err)
	}
	return rows, nil
}

// UnsentDocs is ListUnsent for callers that do not know T
func (r *Repo[T]) UnsentDocs(ctx context.Context, limit int) ([]Doc, error) {
	rows, err := r.ListUnsent(ctx, limit)
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, len(rows))
	for i, row := range rows {
		docs[i] = Doc{ID: row.GetID(), UpdatedAt: row.GetUpdatedAt(), Body: row}
	}
	return docs, nil
}

// MarkSent flags rows as replicated without touching updated_at
func (r *Repo[T]) MarkSent(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(new(T)).Where("id IN ?", ids).UpdateColumn("synced", true).Error
	if err != nil {
		return fmt.Errorf("mark sent %s: %w", r.Table(), err)
	}
	return nil
}

// MarkDocsSent flags the rows behind docs as replicated, skipping any row
// whose updated_at moved since the doc was read. It returns how many rows
// were flipped; skipped rows stay unsent for the next run.
func (r *Repo[T]) MarkDocsSent(ctx context.Context, docs []Doc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	marked := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, doc := range docs {
			var current []time.Time
			if err := tx.Model(new(T)).Where("id = ?", doc.ID).Pluck("updated_at", &current).Error; err != nil {
				return err
			}
			if len(current) == 0 || !current[0].Equal(doc.UpdatedAt) {
				continue
			}
			if err := tx.Model(new(T)).Where("id = ?", doc.ID).UpdateColumn("synced", true).Error; err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark sent %s: %w", r.Table(), err)
	}
	return marked, nil
}

// CountUnsent returns the number of rows waiting for replication
func (r *Repo[T]) CountUnsent(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(new(T)).Where("synced = ?", false).Count(&count).Error
	return count, err
}
