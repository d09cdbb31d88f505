package database

// Message queries
const (
	insertMessageQuery = `
		INSERT INTO messages (
			id, thread_key, thread_key_lookup, is_group, direction,
			content_kind, content_ref, sender_id, from_own_device,
			outgoing_status, progress, played, incoming_status, decrypted,
			retracted_from, server_timestamp, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectMessageColumns = `
		id, thread_key, is_group, direction, content_kind, content_ref,
		sender_id, from_own_device, outgoing_status, progress, played,
		incoming_status, decrypted, retracted_from, server_timestamp,
		created_at, updated_at
	`

	selectMessageByIDQuery = `
		SELECT ` + selectMessageColumns + `
		FROM messages
		WHERE id = ?
	`

	selectLatestMessageByThreadQuery = `
		SELECT ` + selectMessageColumns + `
		FROM messages
		WHERE thread_key_lookup = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	updateMessageStateQuery = `
		UPDATE messages
		SET outgoing_status = ?, progress = ?, played = ?,
		    incoming_status = ?, decrypted = ?, retracted_from = ?,
		    server_timestamp = ?, updated_at = ?
		WHERE id = ?
	`
)

// Receipt queries
const (
	insertReceiptQuery = `
		INSERT INTO receipts (message_id, recipient_id, status, updated_at)
		VALUES (?, ?, ?, ?)
	`

	upsertReceiptQuery = `
		INSERT INTO receipts (message_id, recipient_id, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, recipient_id)
		DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`

	selectReceiptQuery = `
		SELECT message_id, recipient_id, status, updated_at
		FROM receipts
		WHERE message_id = ? AND recipient_id = ?
	`

	selectReceiptsByMessageQuery = `
		SELECT message_id, recipient_id, status, updated_at
		FROM receipts
		WHERE message_id = ?
		ORDER BY recipient_id
	`
)

// Counted-set queries
const (
	insertCountedQuery = `
		INSERT OR IGNORE INTO counted_messages (thread_key_lookup, thread_key, message_id)
		VALUES (?, ?, ?)
	`

	deleteCountedQuery = `
		DELETE FROM counted_messages
		WHERE thread_key_lookup = ? AND message_id = ?
	`

	selectAllCountedQuery = `
		SELECT thread_key, message_id
		FROM counted_messages
		ORDER BY thread_key
	`
)

// Aggregate-mark queries
const (
	upsertAggregateMarkQuery = `
		INSERT INTO aggregate_marks (message_id, emitted_level, recipient_count)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id)
		DO UPDATE SET emitted_level = excluded.emitted_level
	`

	selectAggregateMarksQuery = `
		SELECT message_id, emitted_level, recipient_count
		FROM aggregate_marks
	`
)

// Pending-send and staleness queries
const (
	selectPendingIncomingQuery = `
		SELECT id, thread_key, incoming_status
		FROM messages
		WHERE direction = 'incoming' AND incoming_status IN ('have_seen', 'rerequesting')
		ORDER BY updated_at
		LIMIT ?
	`

	selectPendingRetractsQuery = `
		SELECT id, thread_key
		FROM messages
		WHERE direction = 'outgoing' AND outgoing_status = 'retracting'
		ORDER BY updated_at
		LIMIT ?
	`

	countStaleRetractingQuery = `
		SELECT COUNT(*)
		FROM messages
		WHERE direction = 'outgoing' AND outgoing_status = 'retracting' AND updated_at < ?
	`

	countStalePendingSendsQuery = `
		SELECT COUNT(*)
		FROM messages
		WHERE direction = 'incoming'
		  AND incoming_status IN ('have_seen', 'rerequesting')
		  AND updated_at < ?
	`
)
