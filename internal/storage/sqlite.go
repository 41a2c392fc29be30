package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alvmarrod/web-surveyor/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// Storage persists the crawl frontier, the domain graph and page records
type Storage struct {
	db *sql.DB
}

// NewStorage opens or creates the database and initializes the schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS domains (
		domain_id INTEGER PRIMARY KEY AUTOINCREMENT,
		domain_name TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		discovered_from TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS edges (
		edge_id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_domain_id INTEGER NOT NULL,
		to_domain_id INTEGER NOT NULL,
		weight INTEGER DEFAULT 1,
		FOREIGN KEY (from_domain_id) REFERENCES domains(domain_id),
		FOREIGN KEY (to_domain_id) REFERENCES domains(domain_id),
		UNIQUE(from_domain_id, to_domain_id)
	);

	CREATE TABLE IF NOT EXISTS pages (
		page_id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		domain TEXT,
		is_open INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		record TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_domains_status ON domains(status);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_domain_id);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_domain_id);
	CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertDomain records a frontier domain if it is not known yet and returns
// its id. An existing domain keeps its status and origin.
func (s *Storage) UpsertDomain(domain, discoveredFrom string) (int, error) {
	domain = strings.ToLower(domain)
	_, err := s.db.Exec(`
		INSERT INTO domains (domain_name, status, discovered_from)
		VALUES (?, ?, NULLIF(?, ''))
		ON CONFLICT(domain_name) DO NOTHING
	`, domain, model.DomainQueued, discoveredFrom)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert domain: %w", err)
	}

	var domainID int
	err = s.db.QueryRow("SELECT domain_id FROM domains WHERE domain_name = ?", domain).Scan(&domainID)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve domain_id: %w", err)
	}
	return domainID, nil
}

// MarkHandled flags a domain as processed
func (s *Storage) MarkHandled(domain string) error {
	_, err := s.db.Exec("UPDATE domains SET status = ? WHERE domain_name = ?", model.DomainHandled, strings.ToLower(domain))
	if err != nil {
		return fmt.Errorf("failed to mark domain handled: %w", err)
	}
	return nil
}

// LoadDomains returns every domain, or only those with the given status
// when status is not empty, oldest first
func (s *Storage) LoadDomains(status string) ([]*model.DomainEntry, error) {
	rows, err := s.db.Query(`
		SELECT domain_id, domain_name, status, discovered_from, created_at
		FROM domains
		WHERE ? = '' OR status = ?
		ORDER BY domain_id ASC
	`, status, status)
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}
	defer rows.Close()

	var domains []*model.DomainEntry
	for rows.Next() {
		var entry model.DomainEntry
		var from sql.NullString
		if err := rows.Scan(&entry.DomainID, &entry.DomainName, &entry.Status, &from, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		entry.DiscoveredFrom = from.String
		domains = append(domains, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating domains: %w", err)
	}
	return domains, nil
}

// AddEdgeWeight inserts an edge or adds weight to an existing one
func (s *Storage) AddEdgeWeight(fromID, toID, weight int) error {
	_, err := s.db.Exec(`
		INSERT INTO edges (from_domain_id, to_domain_id, weight)
		VALUES (?, ?, ?)
		ON CONFLICT(from_domain_id, to_domain_id) DO UPDATE SET
			weight = weight + EXCLUDED.weight
	`, fromID, toID, weight)
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

// LoadEdges returns the stored domain graph
func (s *Storage) LoadEdges() ([]*model.Edge, error) {
	rows, err := s.db.Query(`
		SELECT e.edge_id, f.domain_name, t.domain_name, e.weight
		FROM edges e
		JOIN domains f ON f.domain_id = e.from_domain_id
		JOIN domains t ON t.domain_id = e.to_domain_id
		ORDER BY e.edge_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		var edge model.Edge
		if err := rows.Scan(&edge.EdgeID, &edge.FromDomain, &edge.ToDomain, &edge.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, &edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// Emit stores a page record. Records are immutable; a second record with the
// same id is rejected.
func (s *Storage) Emit(ctx context.Context, rec *model.PageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal page record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (page_id, url, domain, is_open, attempts, record)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?)
	`, rec.ID, rec.URL, rec.Domain, rec.IsOpen, rec.Attempts, string(data))
	if err != nil {
		return fmt.Errorf("failed to save page record: %w", err)
	}
	return nil
}

// LoadPages returns every stored page record in insertion order
func (s *Storage) LoadPages(ctx context.Context) ([]*model.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT record FROM pages ORDER BY rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}
	defer rows.Close()

	var records []*model.PageRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		var rec model.PageRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode page record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pages: %w", err)
	}
	return records, nil
}

// LoadPageURLs returns the distinct URLs that already have a page record
func (s *Storage) LoadPageURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT url FROM pages ORDER BY url ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load page urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan page url: %w", err)
		}
		urls = append(urls, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating page urls: %w", err)
	}
	return urls, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
