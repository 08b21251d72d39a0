package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Neo4j Sender Directory
// =============================================================================

// SenderDirectory keeps (:Sender)-[:SENT]->(:Message) edges for every
// imported email and answers contact prefix lookups. It implements
// out.SenderDirectory.
type SenderDirectory struct {
	driver neo4j.DriverWithContext
	dbName string
}

var _ out.SenderDirectory = (*SenderDirectory)(nil)

func NewSenderDirectory(driver neo4j.DriverWithContext, dbName string) *SenderDirectory {
	return &SenderDirectory{driver: driver, dbName: dbName}
}

// EnsureIndexes creates the uniqueness constraints the MERGE queries rely on.
func (d *SenderDirectory) EnsureIndexes(ctx context.Context) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT sender_address_unique IF NOT EXISTS FOR (s:Sender) REQUIRE s.address IS UNIQUE`,
		`CREATE CONSTRAINT message_id_unique IF NOT EXISTS FOR (m:Message) REQUIRE m.message_id IS UNIQUE`,
		`CREATE INDEX sender_name_idx IF NOT EXISTS FOR (s:Sender) ON (s.name_lower)`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("ensure sender indexes: %w", err)
		}
	}
	return nil
}

const recordSendersQuery = `
	UNWIND $rows AS row
	MERGE (s:Sender {address: row.address})
	ON CREATE SET s.first_seen = row.seen
	SET s.name = CASE WHEN row.name <> '' THEN row.name ELSE coalesce(s.name, '') END,
		s.name_lower = toLower(CASE WHEN row.name <> '' THEN row.name ELSE coalesce(s.name, '') END),
		s.last_seen = CASE WHEN s.last_seen IS NULL OR row.seen > s.last_seen THEN row.seen ELSE s.last_seen END
	MERGE (m:Message {message_id: row.message_id})
	SET m.subject = row.subject
	MERGE (s)-[:SENT]->(m)
`

// RecordSenders merges one edge per email. Emails without a sender address
// or message id are ignored.
func (d *SenderDirectory) RecordSenders(ctx context.Context, emails []*domain.Email) error {
	rows := senderRows(emails)
	if len(rows) == 0 {
		return nil
	}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, recordSendersQuery, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("record senders: %w", err)
	}
	return nil
}

const lookupQuery = `
	MATCH (s:Sender)
	WHERE $prefix = '' OR s.address STARTS WITH $prefix OR s.name_lower STARTS WITH $prefix
	OPTIONAL MATCH (s)-[:SENT]->(m:Message)
	WITH s, count(m) AS message_count
	RETURN s.address AS address, s.name AS name, message_count, s.last_seen AS last_seen
	ORDER BY message_count DESC, address
	LIMIT $limit
`

// Lookup returns senders whose address or display name starts with prefix,
// most active first.
func (d *SenderDirectory) Lookup(ctx context.Context, prefix string, limit int) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = 20
	}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.dbName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, lookupQuery, map[string]any{
			"prefix": strings.ToLower(strings.TrimSpace(prefix)),
			"limit":  int64(limit),
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup senders: %w", err)
	}

	records := res.([]*neo4j.Record)
	contacts := make([]*domain.Contact, 0, len(records))
	for _, record := range records {
		contacts = append(contacts, contactFromRecord(record))
	}
	return contacts, nil
}

// senderRows builds the UNWIND parameter list. Addresses are lowercased so
// "Kai@Corp.io" and "kai@corp.io" merge into one sender.
func senderRows(emails []*domain.Email) []map[string]any {
	rows := make([]map[string]any, 0, len(emails))
	for _, e := range emails {
		if e == nil || e.MessageID == "" {
			continue
		}
		addr := strings.ToLower(e.Address())
		if !strings.Contains(addr, "@") {
			continue
		}

		var seen int64
		if t, ok := e.ParsedDate(); ok {
			seen = t.Unix()
		}

		name := e.DisplayName()
		if strings.EqualFold(name, addr) {
			name = ""
		}

		rows = append(rows, map[string]any{
			"address":    addr,
			"name":       name,
			"message_id": e.MessageID,
			"subject":    e.Subject,
			"seen":       seen,
		})
	}
	return rows
}

func contactFromRecord(record *neo4j.Record) *domain.Contact {
	c := &domain.Contact{
		Address:      recordString(record, "address"),
		Name:         recordString(record, "name"),
		MessageCount: int(recordInt(record, "message_count")),
	}
	if seen := recordInt(record, "last_seen"); seen > 0 {
		c.LastSeen = time.Unix(seen, 0).UTC()
	}
	return c
}

func recordString(record *neo4j.Record, key string) string {
	if v, ok := record.Get(key); ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func recordInt(record *neo4j.Record, key string) int64 {
	if v, ok := record.Get(key); ok && v != nil {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}
