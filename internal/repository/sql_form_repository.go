package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/moveit/internal/database"
	"github.com/stwalsh4118/moveit/internal/forms"
	"github.com/stwalsh4118/moveit/internal/models"
)

// fixedColumns lead every form table, in scan order.
var fixedColumns = []string{
	"id", "property_id", "seller_id", "status", "completion_percentage",
	"last_auto_save_at", "version", "created_at", "updated_at",
}

// sharingColumns follow the signature columns on forms that carry signatures.
var sharingColumns = []string{"shared_with", "shared_at", "acknowledged_at"}

// formRepository is the SQL implementation of FormRepository shared by the
// postgres and sqlite backends.
type formRepository struct {
	db       executor
	dialect  dialect
	registry *forms.Registry
}

// NewPostgresFormRepository creates a FormRepository backed by a pgx pool.
func NewPostgresFormRepository(db *database.Database, registry *forms.Registry) FormRepository {
	return &formRepository{
		db:       pgxExecutor{pool: db.Pool},
		dialect:  postgresDialect,
		registry: registry,
	}
}

// NewSQLiteFormRepository creates a FormRepository backed by SQLite.
func NewSQLiteFormRepository(db *database.SQLite, registry *forms.Registry) FormRepository {
	return &formRepository{
		db:       sqlExecutor{db: db.DB},
		dialect:  sqliteDialect,
		registry: registry,
	}
}

// columns returns every column of the schema's table in scan order. Column
// names come from validated schema identifiers.
func columns(schema *forms.Schema) []string {
	cols := append([]string{}, fixedColumns...)
	cols = append(cols, schema.SectionKeys()...)
	if schema.HasSignatures {
		for _, slot := range models.AllSignatureSlots {
			cols = append(cols, slot.Column())
		}
		cols = append(cols, sharingColumns...)
	}
	return cols
}

func (r *formRepository) schema(formType models.FormType) (*forms.Schema, error) {
	schema, err := r.registry.Schema(formType)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return schema, nil
}

// scanDocument reads one row selected with columns(schema).
func scanDocument(row rowScanner, schema *forms.Schema) (*models.FormDocument, error) {
	doc := &models.FormDocument{FormType: schema.FormType}

	var status string
	dest := []any{
		&doc.ID, &doc.PropertyID, &doc.SellerID, &status, &doc.CompletionPercentage,
		&doc.LastAutoSaveAt, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	}

	keys := schema.SectionKeys()
	sections := make([][]byte, len(keys))
	for i := range sections {
		dest = append(dest, &sections[i])
	}

	signatures := make([][]byte, len(models.AllSignatureSlots))
	if schema.HasSignatures {
		for i := range signatures {
			dest = append(dest, &signatures[i])
		}
		dest = append(dest, &doc.SharedWith, &doc.SharedAt, &doc.AcknowledgedAt)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	doc.Status = models.Status(status)
	doc.Sections = make(map[string]json.RawMessage, len(keys))
	for i, key := range keys {
		if len(sections[i]) > 0 {
			doc.Sections[key] = json.RawMessage(sections[i])
		}
	}
	for i, slot := range models.AllSignatureSlots {
		if len(signatures[i]) > 0 {
			doc.Signatures.Set(slot, json.RawMessage(signatures[i]))
		}
	}
	return doc, nil
}

func (r *formRepository) selectSQL(schema *forms.Schema, where string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(columns(schema), ", "), schema.Table, where)
}

// GetOrCreate inserts with ON CONFLICT DO NOTHING so the unique index on
// (property, seller) decides the race, then reads back whichever row won.
func (r *formRepository) GetOrCreate(ctx context.Context, formType models.FormType, key models.DocumentKey, now time.Time) (*models.FormDocument, bool, error) {
	schema, err := r.schema(formType)
	if err != nil {
		return nil, false, err
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (id, property_id, seller_id, status, completion_percentage, version, created_at, updated_at)
		VALUES (%s)
		ON CONFLICT DO NOTHING`,
		schema.Table, strings.Join(r.dialect.placeholders(1, 8), ", "),
	)

	affected, err := r.db.exec(ctx, insert,
		uuid.NewString(), key.PropertyID, key.SellerID, string(schema.InitialStatus),
		forms.Completion(schema, nil), 1, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert %s for seller %s: %w", formType, key.SellerID, err)
	}

	doc, err := r.findByKey(ctx, r.db, schema, key)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, fmt.Errorf("%s for seller %s vanished after insert", formType, key.SellerID)
	}
	return doc, affected == 1, nil
}

func (r *formRepository) findByKey(ctx context.Context, q querier, schema *forms.Schema, key models.DocumentKey) (*models.FormDocument, error) {
	property := ""
	if key.PropertyID != nil {
		property = *key.PropertyID
	}

	query := r.selectSQL(schema, fmt.Sprintf("COALESCE(property_id, '') = %s AND seller_id = %s",
		r.dialect.bind(1), r.dialect.bind(2)))

	doc, err := scanDocument(q.queryRow(ctx, query, property, key.SellerID), schema)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s by key: %w", schema.FormType, err)
	}
	return doc, nil
}

// FindByID returns nil, nil for unknown ids, including ids that are not UUIDs.
func (r *formRepository) FindByID(ctx context.Context, formType models.FormType, id string) (*models.FormDocument, error) {
	schema, err := r.schema(formType)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.findByID(ctx, r.db, schema, id, "")
}

func (r *formRepository) findByID(ctx context.Context, q querier, schema *forms.Schema, id, suffix string) (*models.FormDocument, error) {
	query := r.selectSQL(schema, "id = "+r.dialect.bind(1)) + suffix

	doc, err := scanDocument(q.queryRow(ctx, query, id), schema)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s %s: %w", schema.FormType, id, err)
	}
	return doc, nil
}

// ListBySeller returns a seller's documents ordered by creation time.
func (r *formRepository) ListBySeller(ctx context.Context, formType models.FormType, sellerID string) ([]*models.FormDocument, error) {
	schema, err := r.schema(formType)
	if err != nil {
		return nil, err
	}

	query := r.selectSQL(schema, "seller_id = "+r.dialect.bind(1)) + " ORDER BY created_at, id"

	docs := []*models.FormDocument{}
	err = r.db.query(ctx, query, func(row rowScanner) error {
		doc, err := scanDocument(row, schema)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	}, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s for seller %s: %w", formType, sellerID, err)
	}
	return docs, nil
}

// Update reads the row with a write lock (SELECT ... FOR UPDATE on postgres,
// the single connection on sqlite), applies fn and writes every mutable column
// guarded by the version that was read.
func (r *formRepository) Update(ctx context.Context, formType models.FormType, id string, fn MutateFunc) (*models.FormDocument, error) {
	schema, err := r.schema(formType)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var result *models.FormDocument
	err = r.db.withTx(ctx, func(q querier) error {
		current, err := r.findByID(ctx, q, schema, id, r.dialect.lockSuffix)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNotFound
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = current
				return nil
			}
			return err
		}
		next.ID = current.ID
		next.SellerID = current.SellerID
		next.Version = current.Version + 1

		if err := r.write(ctx, q, schema, next, current.Version); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *formRepository) write(ctx context.Context, q querier, schema *forms.Schema, doc *models.FormDocument, expectedVersion int) error {
	sets := []string{"property_id", "status", "completion_percentage", "last_auto_save_at", "version", "updated_at"}
	args := []any{doc.PropertyID, string(doc.Status), doc.CompletionPercentage, utcPtr(doc.LastAutoSaveAt), doc.Version, doc.UpdatedAt.UTC()}

	for _, key := range schema.SectionKeys() {
		sets = append(sets, key)
		args = append(args, r.dialect.jsonArg(doc.Section(key)))
	}
	if schema.HasSignatures {
		for _, slot := range models.AllSignatureSlots {
			sets = append(sets, slot.Column())
			args = append(args, r.dialect.jsonArg(doc.Signatures.Get(slot)))
		}
		sets = append(sets, sharingColumns...)
		args = append(args, doc.SharedWith, utcPtr(doc.SharedAt), utcPtr(doc.AcknowledgedAt))
	}

	assignments := make([]string, len(sets))
	for i, col := range sets {
		assignments[i] = col + " = " + r.dialect.bind(i+1)
	}
	n := len(sets)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s AND version = %s",
		schema.Table, strings.Join(assignments, ", "), r.dialect.bind(n+1), r.dialect.bind(n+2))
	args = append(args, doc.ID, expectedVersion)

	affected, err := q.exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update %s %s: %w", schema.FormType, doc.ID, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Delete removes a document by id.
func (r *formRepository) Delete(ctx context.Context, formType models.FormType, id string) (bool, error) {
	schema, err := r.schema(formType)
	if err != nil {
		return false, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	affected, err := r.db.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", schema.Table, r.dialect.bind(1)), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", formType, id, err)
	}
	return affected > 0, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
