package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingsync/internal/clock"
	numberingdomain "github.com/smallbiznis/billingsync/internal/numbering/domain"
	"github.com/smallbiznis/billingsync/internal/numbering/repository"
	"github.com/smallbiznis/billingsync/pkg/db/dbtest"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (numberingdomain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &numberingdomain.Sequence{})
	svc := NewService(Params{
		Log:   zaptest.NewLogger(t),
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
	})
	return svc, db
}

func TestNext_SequentialPerScope(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	issue := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	tenantA, tenantB := snowflake.ID(1), snowflake.ID(2)

	first, err := svc.Next(ctx, db, tenantA, "invoice", issue)
	require.NoError(t, err)
	second, err := svc.Next(ctx, db, tenantA, "invoice", issue)
	require.NoError(t, err)
	quote, err := svc.Next(ctx, db, tenantA, "quote", issue)
	require.NoError(t, err)
	otherTenant, err := svc.Next(ctx, db, tenantB, "invoice", issue)
	require.NoError(t, err)
	nextYear, err := svc.Next(ctx, db, tenantA, "invoice", issue.AddDate(1, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, "INV-2024-00001", first)
	assert.Equal(t, "INV-2024-00002", second)
	assert.Equal(t, "QUO-2024-00001", quote)
	assert.Equal(t, "INV-2024-00001", otherTenant)
	assert.Equal(t, "INV-2025-00001", nextYear)
}

func TestNext_RolledBackAllocationIsNotVisible(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	issue := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	_ = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Next(ctx, tx, 1, "invoice", issue)
		require.NoError(t, err)
		return assert.AnError
	})

	number, err := svc.Next(ctx, db, 1, "invoice", issue)
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-00001", number)
}

func TestNext_ConcurrentCallsYieldDistinctNumbers(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	issue := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	const n = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{}, n)
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				number, err := svc.Next(ctx, tx, 7, "credit_note", issue)
				if err != nil {
					return err
				}
				mu.Lock()
				numbers[number] = struct{}{}
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, numbers, n)

	var seq numberingdomain.Sequence
	require.NoError(t, db.Where("tenant_id = ? AND document_type = ? AND period = ?", 7, "credit_note", "2024").First(&seq).Error)
	assert.Equal(t, int64(n), seq.LastValue)
}

func TestNext_Rejects(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Next(ctx, db, 1, "receipt", time.Now())
	assert.ErrorIs(t, err, numberingdomain.ErrUnknownDocumentType)
	assert.True(t, ierr.IsValidation(err))

	_, err = svc.Next(ctx, db, 0, "invoice", time.Now())
	assert.ErrorIs(t, err, numberingdomain.ErrInvalidTenant)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "PINV-2024-00042", Format("PINV", "2024", 42))
	assert.Equal(t, "INV-2024-123456", Format("INV", "2024", 123456))
}
