package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingsync/internal/clock"
	numberingdomain "github.com/smallbiznis/billingsync/internal/numbering/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Repo  numberingdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	repo  numberingdomain.Repository
	clock clock.Clock
}

func NewService(p Params) numberingdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		log:   p.Log.Named("numbering.service"),
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, documentType string, issueDate time.Time) (string, error) {
	if tenantID == 0 {
		return "", numberingdomain.ErrInvalidTenant
	}
	prefix, ok := numberingdomain.Prefixes[documentType]
	if !ok {
		return "", numberingdomain.ErrUnknownDocumentType
	}

	period := strconv.Itoa(issueDate.UTC().Year())
	value, err := s.repo.Increment(ctx, tx, tenantID, documentType, period, s.clock.Now())
	if err != nil {
		return "", errors.Wrapf(err, "increment %s sequence", documentType)
	}

	number := Format(prefix, period, value)
	s.log.Debug("allocated document number",
		zap.String("tenant_id", tenantID.String()),
		zap.String("document_type", documentType),
		zap.String("number", number),
	)
	return number, nil
}

// Format renders e.g. INV-2024-00042. Values past 99999 keep all digits.
func Format(prefix, period string, value int64) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, period, value)
}
