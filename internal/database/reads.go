package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatledger/internal/models"
)

func (d *Database) GetMessage(ctx context.Context, id string) (*models.MessageRecord, error) {
	row := d.db.QueryRowContext(ctx, selectMessageByIDQuery, id)
	rec, err := d.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return rec, nil
}

// GetLatestMessage returns the newest message in a thread, or nil when the
// thread has none.
func (d *Database) GetLatestMessage(ctx context.Context, threadKey string) (*models.MessageRecord, error) {
	threadLookup, err := d.encryptor.EncryptForLookupIfEnabled(threadKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt thread key lookup: %w", err)
	}

	row := d.db.QueryRowContext(ctx, selectLatestMessageByThreadQuery, threadLookup)
	rec, err := d.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest message: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.MessageRecord, error) {
	var rec models.MessageRecord
	var threadKey, direction, kind, outgoing, incoming string
	var contentRef, senderID, retractedFrom sql.NullString
	var serverTimestamp sql.NullTime

	err := row.Scan(
		&rec.ID,
		&threadKey,
		&rec.IsGroup,
		&direction,
		&kind,
		&contentRef,
		&senderID,
		&rec.FromOwnDevice,
		&outgoing,
		&rec.Progress,
		&rec.Played,
		&incoming,
		&rec.Decrypted,
		&retractedFrom,
		&serverTimestamp,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.ThreadKey, err = d.encryptor.DecryptIfEnabled(threadKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt thread key: %w", err)
	}
	if contentRef.Valid {
		if rec.ContentRef, err = d.encryptor.DecryptIfEnabled(contentRef.String); err != nil {
			return nil, fmt.Errorf("failed to decrypt content reference: %w", err)
		}
	}
	if senderID.Valid {
		if rec.SenderID, err = d.encryptor.DecryptIfEnabled(senderID.String); err != nil {
			return nil, fmt.Errorf("failed to decrypt sender ID: %w", err)
		}
	}

	rec.Direction = models.Direction(direction)
	rec.Kind = models.ContentKind(kind)
	if rec.OutgoingStatus, err = models.ParseOutgoingStatus(outgoing); err != nil {
		return nil, err
	}
	if rec.IncomingStatus, err = models.ParseIncomingStatus(incoming); err != nil {
		return nil, err
	}
	if retractedFrom.Valid {
		status, err := models.ParseIncomingStatus(retractedFrom.String)
		if err != nil {
			return nil, err
		}
		rec.RetractedFrom = status
	}
	if serverTimestamp.Valid {
		ts := serverTimestamp.Time
		rec.ServerTimestamp = &ts
	}

	return &rec, nil
}

func (d *Database) GetReceipt(ctx context.Context, messageID, recipientID string) (*models.RecipientReceipt, error) {
	encRecipient, err := d.encryptor.EncryptForLookupIfEnabled(recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt recipient ID: %w", err)
	}

	var rcpt models.RecipientReceipt
	var storedRecipient, status string
	err = d.db.QueryRowContext(ctx, selectReceiptQuery, messageID, encRecipient).
		Scan(&rcpt.MessageID, &storedRecipient, &status, &rcpt.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	rcpt.RecipientID = recipientID
	if rcpt.Status, err = models.ParseReceiptStatus(status); err != nil {
		return nil, err
	}
	return &rcpt, nil
}

func (d *Database) GetReceipts(ctx context.Context, messageID string) ([]models.RecipientReceipt, error) {
	rows, err := d.db.QueryContext(ctx, selectReceiptsByMessageQuery, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []models.RecipientReceipt
	for rows.Next() {
		var rcpt models.RecipientReceipt
		var storedRecipient, status string
		if err := rows.Scan(&rcpt.MessageID, &storedRecipient, &status, &rcpt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		if rcpt.RecipientID, err = d.encryptor.DecryptIfEnabled(storedRecipient); err != nil {
			return nil, fmt.Errorf("failed to decrypt recipient ID: %w", err)
		}
		if rcpt.Status, err = models.ParseReceiptStatus(status); err != nil {
			return nil, err
		}
		receipts = append(receipts, rcpt)
	}
	return receipts, rows.Err()
}

// GetCountedThreads returns the persisted counted sets, keyed by thread key.
// Startup recovery rebuilds the in-memory counter from this.
func (d *Database) GetCountedThreads(ctx context.Context) (map[string][]string, error) {
	rows, err := d.db.QueryContext(ctx, selectAllCountedQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query counted messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counted := make(map[string][]string)
	for rows.Next() {
		var threadKey, messageID string
		if err := rows.Scan(&threadKey, &messageID); err != nil {
			return nil, fmt.Errorf("failed to scan counted message: %w", err)
		}
		if threadKey, err = d.encryptor.DecryptIfEnabled(threadKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt thread key: %w", err)
		}
		counted[threadKey] = append(counted[threadKey], messageID)
	}
	return counted, rows.Err()
}

func (d *Database) ListAggregateMarks(ctx context.Context) ([]models.AggregateMark, error) {
	rows, err := d.db.QueryContext(ctx, selectAggregateMarksQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregate marks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var marks []models.AggregateMark
	for rows.Next() {
		var mark models.AggregateMark
		var level string
		if err := rows.Scan(&mark.MessageID, &level, &mark.RecipientCount); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate mark: %w", err)
		}
		if mark.EmittedLevel, err = models.ParseAggregateStatus(level); err != nil {
			return nil, err
		}
		marks = append(marks, mark)
	}
	return marks, rows.Err()
}

// ListPendingSends returns outbound sends still awaiting confirmation:
// unsent seen receipts, unresolved rerequests and unconfirmed retractions.
func (d *Database) ListPendingSends(ctx context.Context, limit int) ([]models.PendingSend, error) {
	var pending []models.PendingSend

	rows, err := d.db.QueryContext(ctx, selectPendingIncomingQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending incoming: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var send models.PendingSend
		var threadKey, status string
		if err := rows.Scan(&send.MessageID, &threadKey, &status); err != nil {
			return nil, fmt.Errorf("failed to scan pending send: %w", err)
		}
		if send.ThreadKey, err = d.encryptor.DecryptIfEnabled(threadKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt thread key: %w", err)
		}
		switch models.IncomingStatus(status) {
		case models.IncomingRerequesting:
			send.Kind = models.PendingRerequest
		default:
			send.Kind = models.PendingSeenReceipt
		}
		pending = append(pending, send)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	retractRows, err := d.db.QueryContext(ctx, selectPendingRetractsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending retracts: %w", err)
	}
	defer func() { _ = retractRows.Close() }()

	for retractRows.Next() {
		var send models.PendingSend
		var threadKey string
		if err := retractRows.Scan(&send.MessageID, &threadKey); err != nil {
			return nil, fmt.Errorf("failed to scan pending retract: %w", err)
		}
		if send.ThreadKey, err = d.encryptor.DecryptIfEnabled(threadKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt thread key: %w", err)
		}
		send.Kind = models.PendingRetractConfirm
		pending = append(pending, send)
	}
	return pending, retractRows.Err()
}

// GetStaleCounts reports how many outbound sends have sat unresolved longer
// than the threshold, split into retractions and the rest.
func (d *Database) GetStaleCounts(ctx context.Context, olderThan time.Duration) (retracting int, pendingSends int, err error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	if err = d.db.QueryRowContext(ctx, countStaleRetractingQuery, cutoff).Scan(&retracting); err != nil {
		return 0, 0, fmt.Errorf("failed to count stale retracting: %w", err)
	}
	if err = d.db.QueryRowContext(ctx, countStalePendingSendsQuery, cutoff).Scan(&pendingSends); err != nil {
		return 0, 0, fmt.Errorf("failed to count stale pending sends: %w", err)
	}
	return retracting, pendingSends, nil
}
