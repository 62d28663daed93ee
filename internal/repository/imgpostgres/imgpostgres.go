package imgpostgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
)

const uniqueViolation = "23505"

// Writer - запись ассета и его вариантов в рамках открытой транзакции
type Writer interface {
	CreateAsset(ctx context.Context, id uuid.UUID, name, tag string) (*model.Asset, error)
	AddVariant(ctx context.Context, v model.Variant) (*model.Variant, error)
}

type PostgresRepo struct {
	DB *dbpg.DB
}

type txWriter struct {
	tx *sql.Tx
}

func (p PostgresRepo) WithinTx(ctx context.Context, fn func(w Writer) error) error {
	return p.DB.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(txWriter{tx: tx})
	})
}

func (w txWriter) CreateAsset(ctx context.Context, id uuid.UUID, name, tag string) (*model.Asset, error) {
	query := `INSERT INTO assets (id, name, tag)
	VALUES ($1, $2, $3)
	RETURNING id, name, tag, upload_date`

	var a model.Asset
	if err := w.tx.QueryRowContext(ctx, query, id, name, tag).Scan(&a.ID, &a.Name, &a.Tag, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert asset %q: %w", id, err)
	}
	a.Variants = []model.Variant{}
	return &a, nil
}

func (w txWriter) AddVariant(ctx context.Context, v model.Variant) (*model.Variant, error) {
	query := `INSERT INTO variants (asset_id, resolution, file_path, size, format, width, height)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

	if err := w.tx.QueryRowContext(ctx, query, v.AssetID, v.Resolution, v.CacheKey, v.Size, v.Format, v.Width, v.Height).Scan(&v.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", model.ErrDuplicateKey, v.CacheKey)
		}
		return nil, fmt.Errorf("failed to insert variant %q: %w", v.CacheKey, err)
	}
	return &v, nil
}

// один запрос с JOIN - читатель видит ассет либо целиком, либо никак
const selectAssetsWithVariants = `SELECT a.id, a.name, a.tag, a.upload_date,
	v.id, v.resolution, v.file_path, v.size, v.format, v.width, v.height
	FROM assets a
	LEFT JOIN variants v ON v.asset_id = a.id`

func (p PostgresRepo) Get(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	query := selectAssetsWithVariants + `
	WHERE a.id = $1
	ORDER BY v.id`

	rows, err := p.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	assets, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, model.ErrImageNotFound
	}
	return &assets[0], nil
}

func (p PostgresRepo) List(ctx context.Context) ([]model.Asset, error) {
	query := selectAssetsWithVariants + `
	ORDER BY a.upload_date DESC, a.id, v.id`

	rows, err := p.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	return scanAssets(rows)
}

func (p PostgresRepo) Update(ctx context.Context, id uuid.UUID, upd model.AssetUpdate) (*model.Asset, error) {
	query := `UPDATE assets
	SET name = COALESCE($2, name), tag = COALESCE($3, tag)
	WHERE id = $1
	RETURNING id, name, tag, upload_date`

	var a model.Asset
	err := p.DB.QueryRowContext(ctx, query, id, upd.Name, upd.Tag).Scan(&a.ID, &a.Name, &a.Tag, &a.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrImageNotFound // 404
		default:
			return nil, err // 500
		}
	}
	return &a, nil
}

// Delete - варианты и ассет удаляются в одной транзакции; возвращает удаленный ассет
// вместе с ключами его вариантов, чтобы вызывающий мог вычистить кэш после коммита
func (p PostgresRepo) Delete(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	var a model.Asset
	err := p.DB.WithTx(ctx, func(tx *sql.Tx) error {
		variants, err := deleteVariants(ctx, tx, id)
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `DELETE FROM assets WHERE id = $1 RETURNING id, name, tag, upload_date`, id).
			Scan(&a.ID, &a.Name, &a.Tag, &a.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrImageNotFound
			}
			return err
		}
		a.Variants = variants
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func deleteVariants(ctx context.Context, tx *sql.Tx, id uuid.UUID) ([]model.Variant, error) {
	rows, err := tx.QueryContext(ctx, `DELETE FROM variants WHERE asset_id = $1 RETURNING id, resolution, file_path`, id)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	variants := make([]model.Variant, 0, 4)
	for rows.Next() {
		v := model.Variant{AssetID: id}
		if err := rows.Scan(&v.ID, &v.Resolution, &v.CacheKey); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func scanAssets(rows *sql.Rows) ([]model.Asset, error) {
	assets := make([]model.Asset, 0)
	index := make(map[uuid.UUID]int)

	for rows.Next() {
		var (
			a                    model.Asset
			vID, vSize           sql.NullInt64
			vRes, vPath, vFormat sql.NullString
			vWidth, vHeight      sql.NullInt32
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Tag, &a.CreatedAt,
			&vID, &vRes, &vPath, &vSize, &vFormat, &vWidth, &vHeight); err != nil {
			return nil, err
		}

		i, ok := index[a.ID]
		if !ok {
			a.Variants = []model.Variant{}
			assets = append(assets, a)
			i = len(assets) - 1
			index[a.ID] = i
		}

		if !vID.Valid {
			continue
		}
		assets[i].Variants = append(assets[i].Variants, model.Variant{
			ID:         vID.Int64,
			AssetID:    a.ID,
			Resolution: vRes.String,
			CacheKey:   vPath.String,
			Size:       vSize.Int64,
			Format:     vFormat.String,
			Width:      int(vWidth.Int32),
			Height:     int(vHeight.Int32),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("Error while closing *sql.Rows after scanning: %v", err)
	}
}
