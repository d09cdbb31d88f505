// Package database is the durable store behind the ledger. In-memory state
// elsewhere is a cache over this store; after a crash the ledger re-derives
// everything from here. A status write and its unread-count delta always
// commit in the same transaction.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatledger/internal/migrations"
	"chatledger/internal/models"
	"chatledger/internal/security"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}

func (d *Database) Close() error {
	return d.db.Close()
}

// CreateMessage inserts a message together with its recipient snapshot and
// aggregate mark (group messages) in one transaction.
func (d *Database) CreateMessage(ctx context.Context, rec *models.MessageRecord, receipts []models.RecipientReceipt, mark *models.AggregateMark) error {
	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := d.insertMessage(ctx, tx, rec); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, rcpt := range receipts {
			encRecipient, err := d.encryptor.EncryptForLookupIfEnabled(rcpt.RecipientID)
			if err != nil {
				return fmt.Errorf("failed to encrypt recipient ID: %w", err)
			}
			status := rcpt.Status
			if status == "" {
				status = models.ReceiptNone
			}
			if _, err := tx.ExecContext(ctx, insertReceiptQuery,
				rcpt.MessageID, encRecipient, string(status), now); err != nil {
				return fmt.Errorf("failed to insert receipt: %w", err)
			}
		}
		if mark != nil {
			if err := upsertAggregateMark(ctx, tx, mark); err != nil {
				return err
			}
		}

		return tx.Commit()
	}, "create message")
}

func (d *Database) insertMessage(ctx context.Context, tx *sql.Tx, rec *models.MessageRecord) error {
	encThreadKey, err := d.encryptor.EncryptIfEnabled(rec.ThreadKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt thread key: %w", err)
	}
	threadLookup, err := d.encryptor.EncryptForLookupIfEnabled(rec.ThreadKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt thread key lookup: %w", err)
	}
	encContentRef, err := d.encryptor.EncryptIfEnabled(rec.ContentRef)
	if err != nil {
		return fmt.Errorf("failed to encrypt content reference: %w", err)
	}
	encSender, err := d.encryptor.EncryptIfEnabled(rec.SenderID)
	if err != nil {
		return fmt.Errorf("failed to encrypt sender ID: %w", err)
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = tx.ExecContext(ctx, insertMessageQuery,
		rec.ID,
		encThreadKey,
		threadLookup,
		rec.IsGroup,
		string(rec.Direction),
		string(rec.Kind),
		encContentRef,
		encSender,
		rec.FromOwnDevice,
		string(normalizeOutgoing(rec.OutgoingStatus)),
		rec.Progress,
		rec.Played,
		string(normalizeIncoming(rec.IncomingStatus)),
		rec.Decrypted,
		nullableStatus(string(rec.RetractedFrom)),
		nullableTime(rec.ServerTimestamp),
		created,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ApplyChange commits one state change atomically: the message and/or
// receipt write, the counted-set delta and the aggregate mark either all
// land or none do.
func (d *Database) ApplyChange(ctx context.Context, change *models.StateChange) error {
	if change == nil || change.Empty() {
		return nil
	}

	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC()

		if rec := change.Message; rec != nil {
			_, err := tx.ExecContext(ctx, updateMessageStateQuery,
				string(normalizeOutgoing(rec.OutgoingStatus)),
				rec.Progress,
				rec.Played,
				string(normalizeIncoming(rec.IncomingStatus)),
				rec.Decrypted,
				nullableStatus(string(rec.RetractedFrom)),
				nullableTime(rec.ServerTimestamp),
				now,
				rec.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update message state: %w", err)
			}
		}

		if rcpt := change.Receipt; rcpt != nil {
			encRecipient, err := d.encryptor.EncryptForLookupIfEnabled(rcpt.RecipientID)
			if err != nil {
				return fmt.Errorf("failed to encrypt recipient ID: %w", err)
			}
			if _, err := tx.ExecContext(ctx, upsertReceiptQuery,
				rcpt.MessageID, encRecipient, string(rcpt.Status), now); err != nil {
				return fmt.Errorf("failed to upsert receipt: %w", err)
			}
		}

		if ref := change.CountedAdd; ref != nil {
			if err := d.execCounted(ctx, tx, insertCountedQuery, ref, true); err != nil {
				return err
			}
		}
		if ref := change.CountedRemove; ref != nil {
			if err := d.execCounted(ctx, tx, deleteCountedQuery, ref, false); err != nil {
				return err
			}
		}

		if change.AggregateMark != nil {
			if err := upsertAggregateMark(ctx, tx, change.AggregateMark); err != nil {
				return err
			}
		}

		return tx.Commit()
	}, "apply state change")
}

func (d *Database) execCounted(ctx context.Context, tx *sql.Tx, query string, ref *models.CountedRef, insert bool) error {
	threadLookup, err := d.encryptor.EncryptForLookupIfEnabled(ref.ThreadKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt thread key lookup: %w", err)
	}
	if insert {
		encThreadKey, err := d.encryptor.EncryptIfEnabled(ref.ThreadKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt thread key: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, threadLookup, encThreadKey, ref.MessageID); err != nil {
			return fmt.Errorf("failed to add counted message: %w", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, threadLookup, ref.MessageID); err != nil {
		return fmt.Errorf("failed to remove counted message: %w", err)
	}
	return nil
}

func upsertAggregateMark(ctx context.Context, tx *sql.Tx, mark *models.AggregateMark) error {
	level := mark.EmittedLevel
	if level == "" {
		level = models.AggregatePending
	}
	if _, err := tx.ExecContext(ctx, upsertAggregateMarkQuery,
		mark.MessageID, string(level), mark.RecipientCount); err != nil {
		return fmt.Errorf("failed to upsert aggregate mark: %w", err)
	}
	return nil
}

func normalizeOutgoing(s models.OutgoingStatus) models.OutgoingStatus {
	if s == "" {
		return models.OutgoingPending
	}
	return s
}

func normalizeIncoming(s models.IncomingStatus) models.IncomingStatus {
	if s == "" {
		return models.IncomingNone
	}
	return s
}

func nullableStatus(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
