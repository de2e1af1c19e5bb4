package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() documentdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, doc *documentdomain.Document) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_documents (
			id, tenant_id, document_type, document_number, status,
			issue_date, due_date, valid_until, currency,
			customer_name, customer_email, customer_tax_id, customer_address, notes,
			subtotal, tax_amount, discount_amount, total_amount, paid_amount,
			converted_from_id, converted_to_id, sent_at, paid_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.TenantID,
		doc.DocumentType,
		doc.DocumentNumber,
		doc.Status,
		doc.IssueDate,
		doc.DueDate,
		doc.ValidUntil,
		doc.Currency,
		doc.CustomerName,
		doc.CustomerEmail,
		doc.CustomerTaxID,
		doc.CustomerAddress,
		doc.Notes,
		doc.Subtotal,
		doc.TaxAmount,
		doc.DiscountAmount,
		doc.TotalAmount,
		doc.PaidAmount,
		doc.ConvertedFromID,
		doc.ConvertedToID,
		doc.SentAt,
		doc.PaidAt,
		doc.CreatedAt,
		doc.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*documentdomain.Document, error) {
	return r.findOne(db.WithContext(ctx), tenantID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*documentdomain.Document, error) {
	return r.findOne(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

func (r *repo) findOne(db *gorm.DB, tenantID, id snowflake.ID) (*documentdomain.Document, error) {
	var docs []documentdomain.Document
	err := db.Where("tenant_id = ? AND id = ?", tenantID, id).
		Limit(1).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (r *repo) NumberExists(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, documentType documentdomain.DocumentType, number string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_documents
		 WHERE tenant_id = ? AND document_type = ? AND document_number = ?`,
		tenantID, documentType, number,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter documentdomain.ListFilter) ([]documentdomain.Document, error) {
	stmt := db.WithContext(ctx).Model(&documentdomain.Document{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.DocumentType != "" {
		stmt = stmt.Where("document_type = ?", filter.DocumentType)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}

	var docs []documentdomain.Document
	if err := stmt.Order("id DESC").Limit(filter.Limit + 1).Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, doc *documentdomain.Document) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_documents SET
			status = ?, issue_date = ?, due_date = ?, valid_until = ?, currency = ?,
			customer_name = ?, customer_email = ?, customer_tax_id = ?, customer_address = ?, notes = ?,
			subtotal = ?, tax_amount = ?, discount_amount = ?, total_amount = ?, paid_amount = ?,
			converted_to_id = ?, sent_at = ?, paid_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		doc.Status,
		doc.IssueDate,
		doc.DueDate,
		doc.ValidUntil,
		doc.Currency,
		doc.CustomerName,
		doc.CustomerEmail,
		doc.CustomerTaxID,
		doc.CustomerAddress,
		doc.Notes,
		doc.Subtotal,
		doc.TaxAmount,
		doc.DiscountAmount,
		doc.TotalAmount,
		doc.PaidAmount,
		doc.ConvertedToID,
		doc.SentAt,
		doc.PaidAt,
		doc.UpdatedAt,
		doc.TenantID,
		doc.ID,
	).Error
}

// Delete removes the document and its items. The foreign key cascades as
// well; items are removed explicitly so the result does not depend on it.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM billing_document_items WHERE tenant_id = ? AND document_id = ?`,
		tenantID, id,
	).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM billing_documents WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	).Error
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *documentdomain.Item) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_document_items (
			id, tenant_id, document_id, position, description,
			quantity, unit_price, tax_rate, subtotal, tax_amount, total,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.TenantID,
		item.DocumentID,
		item.Position,
		item.Description,
		item.Quantity,
		item.UnitPrice,
		item.TaxRate,
		item.Subtotal,
		item.TaxAmount,
		item.Total,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) FindItem(ctx context.Context, db *gorm.DB, tenantID, documentID, itemID snowflake.ID) (*documentdomain.Item, error) {
	var items []documentdomain.Item
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ? AND id = ?", tenantID, documentID, itemID).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, tenantID, documentID snowflake.ID) ([]documentdomain.Item, error) {
	var items []documentdomain.Item
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Order("position ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) UpdateItem(ctx context.Context, db *gorm.DB, item *documentdomain.Item) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_document_items SET
			description = ?, quantity = ?, unit_price = ?, tax_rate = ?,
			subtotal = ?, tax_amount = ?, total = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		item.Description,
		item.Quantity,
		item.UnitPrice,
		item.TaxRate,
		item.Subtotal,
		item.TaxAmount,
		item.Total,
		item.UpdatedAt,
		item.TenantID,
		item.ID,
	).Error
}

func (r *repo) DeleteItem(ctx context.Context, db *gorm.DB, tenantID, itemID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM billing_document_items WHERE tenant_id = ? AND id = ?`,
		tenantID, itemID,
	).Error
}

func (r *repo) NextPosition(ctx context.Context, db *gorm.DB, tenantID, documentID snowflake.ID) (int, error) {
	var last int
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(position), 0) FROM billing_document_items
		 WHERE tenant_id = ? AND document_id = ?`,
		tenantID, documentID,
	).Scan(&last).Error
	return last + 1, err
}
