package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const (
	defaultArchivePrefix = "archive/markets"
	jsonlContentType     = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// archiveRecord is one JSONL line of a market archive file.
type archiveRecord struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// MarketArchiver implements domain.Archiver. Each settled market is written
// once to <prefix>/YYYY-MM-DD/<id>.jsonl, partitioned by settlement date:
// the market line first, then its positions, then its payouts. Ledger rows
// are never deleted.
type MarketArchiver struct {
	store  domain.LedgerStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
}

// NewArchiver creates a MarketArchiver. reader and audit may be nil; without
// a reader every eligible market is re-uploaded on each run.
func NewArchiver(
	store domain.LedgerStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	prefix string,
	logger *slog.Logger,
) *MarketArchiver {
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MarketArchiver{
		store:  store,
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled uploads every market settled before the cutoff that is not
// archived yet and returns how many files were written.
func (a *MarketArchiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	var markets []domain.Market
	err := a.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		markets, err = tx.ListSettledBefore(ctx, before, 0)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled markets: %w", err)
	}

	var written int64
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path := a.Path(m)
		if a.reader != nil {
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return written, err
			}
			if exists {
				continue
			}
		}
		if err := a.archiveMarket(ctx, m, path); err != nil {
			return written, err
		}
		written++
	}

	if written > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.markets", map[string]any{
			"count":  written,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return written, nil
}

// Path returns the object key for a settled market.
func (a *MarketArchiver) Path(m domain.Market) string {
	day := m.CreatedAt
	if m.SettledAt != nil {
		day = *m.SettledAt
	}
	return a.prefix + "/" + day.UTC().Format("2006-01-02") + "/" + strconv.FormatUint(m.ID, 10) + ".jsonl"
}

func (a *MarketArchiver) archiveMarket(ctx context.Context, m domain.Market, path string) error {
	var (
		positions []domain.UserPosition
		payouts   []domain.Payout
	)
	err := a.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		if positions, err = tx.ListPositions(ctx, m.ID); err != nil {
			return err
		}
		payouts, err = tx.ListPayouts(ctx, m.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("s3blob: load market %d: %w", m.ID, err)
	}

	buf, err := marshalMarketArchive(m, positions, payouts)
	if err != nil {
		return fmt.Errorf("s3blob: marshal market %d: %w", m.ID, err)
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "market archived",
		slog.Uint64("market_id", m.ID),
		slog.String("path", path),
		slog.Int("positions", len(positions)),
		slog.Int("payouts", len(payouts)),
	)
	return nil
}

func marshalMarketArchive(m domain.Market, positions []domain.UserPosition, payouts []domain.Payout) ([]byte, error) {
	records := make([]archiveRecord, 0, 1+len(positions)+len(payouts))
	records = append(records, archiveRecord{Kind: "market", Data: m})
	for _, p := range positions {
		records = append(records, archiveRecord{Kind: "position", Data: p})
	}
	for _, p := range payouts {
		records = append(records, archiveRecord{Kind: "payout", Data: p})
	}
	return marshalJSONL(records)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*MarketArchiver)(nil)
