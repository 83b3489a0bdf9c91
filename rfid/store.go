package rfid

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"evcsms/utility"
)

// Record is one RFID entry: free-form key=value fields. The protocol path
// only reads "balance" and "allowed".
type Record map[string]string

func (r Record) Balance() float64 {
	f, err := strconv.ParseFloat(r["balance"], 64)
	if err != nil {
		return 0
	}
	return f
}

// Allowed defaults to true when the field is absent.
func (r Record) Allowed() bool {
	v, ok := r["allowed"]
	if !ok {
		return true
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Store reads and writes a delimited table file, one record per line:
//
//	ID:balance=5.0:allowed=true
//
// Values are URL-escaped. Every read reloads the file, so operator edits
// take effect on the next authorization without a restart.
type Store struct {
	path string
	mux  sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load parses the whole table. A missing file yields an empty table.
func (s *Store) Load() (map[string]Record, error) {
	table := make(map[string]Record)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		parts := strings.Split(line, ":")
		id := strings.TrimSpace(parts[0])
		record := make(Record)
		for _, part := range parts[1:] {
			k, v, found := strings.Cut(part, "=")
			if !found {
				continue
			}
			if decoded, err := url.QueryUnescape(strings.TrimSpace(v)); err == nil {
				v = decoded
			}
			record[strings.TrimSpace(k)] = v
		}
		table[id] = record
	}
	return table, nil
}

// Get reloads the table and returns the record for id, if present.
func (s *Store) Get(id string) (Record, bool, error) {
	table, err := s.Load()
	if err != nil {
		return nil, false, err
	}
	record, ok := table[id]
	return record, ok, nil
}

func (s *Store) write(table map[string]Record) error {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		keys := make([]string, 0, len(table[id]))
		for k := range table[id] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(":")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(escapeValue(table[id][k]))
		}
		b.WriteString("\n")
	}
	return os.WriteFile(s.path, []byte(b.String()), 0644)
}

// escapeValue encodes a field value for the table file. The format uses
// percent-encoding throughout, so spaces must come out as %20, not the
// query-string +.
func escapeValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

func (s *Store) update(id string, apply func(Record) error) error {
	if id == "" {
		return utility.Err("empty rfid id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	table, err := s.Load()
	if err != nil {
		return err
	}
	record, ok := table[id]
	if !ok {
		record = make(Record)
		table[id] = record
	}
	if err = apply(record); err != nil {
		return err
	}
	return s.write(table)
}

// Create adds a new record; it fails if the id already exists.
func (s *Store) Create(id string, balance float64, allowed bool) error {
	if id == "" {
		return utility.Err("empty rfid id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	table, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := table[id]; ok {
		return utility.Err(fmt.Sprintf("rfid %s already exists", id))
	}
	table[id] = Record{
		"balance": strconv.FormatFloat(balance, 'f', -1, 64),
		"allowed": strconv.FormatBool(allowed),
	}
	return s.write(table)
}

// Update merges fields into an existing or new record.
func (s *Store) Update(id string, fields map[string]string) error {
	return s.update(id, func(record Record) error {
		for k, v := range fields {
			record[k] = v
		}
		return nil
	})
}

func (s *Store) Delete(id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	table, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := table[id]; !ok {
		return utility.Err(fmt.Sprintf("rfid %s not found", id))
	}
	delete(table, id)
	return s.write(table)
}

func (s *Store) Enable(id string) error {
	return s.update(id, func(record Record) error {
		record["allowed"] = "true"
		return nil
	})
}

func (s *Store) Disable(id string) error {
	return s.update(id, func(record Record) error {
		record["allowed"] = "false"
		return nil
	})
}

func (s *Store) Credit(id string, amount float64) error {
	return s.update(id, func(record Record) error {
		record["balance"] = strconv.FormatFloat(record.Balance()+amount, 'f', -1, 64)
		return nil
	})
}

func (s *Store) Debit(id string, amount float64) error {
	return s.update(id, func(record Record) error {
		record["balance"] = strconv.FormatFloat(record.Balance()-amount, 'f', -1, 64)
		return nil
	})
}
