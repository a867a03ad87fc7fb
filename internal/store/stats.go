package store

import "time"

// HostStats aggregates a host's transfer history.
type HostStats struct {
	Host     string `json:"host"`
	Uploads  int64  `json:"uploads"`
	Failures int64  `json:"failures"`
	Bytes    int64  `json:"bytes"`
}

// statsDay buckets transfers by UTC calendar day so old rows can be
// aged out without losing recent history.
func statsDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecordTransfer adds one finished transfer to today's bucket. Failed
// transfers count their bytes too; partial uploads still moved data.
func (s *Store) RecordTransfer(host string, bytes int64, ok bool) {
	var uploads, failures int64
	if ok {
		uploads = 1
	} else {
		failures = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// a failed stats write must never fail an upload
	s.db.Exec(`
		INSERT INTO transfer_stats (host, day, uploads, failures, bytes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(host, day) DO UPDATE SET
			uploads  = uploads + excluded.uploads,
			failures = failures + excluded.failures,
			bytes    = bytes + excluded.bytes
	`, host, statsDay(time.Now()), uploads, failures, bytes)
}

// Stats returns one host's lifetime totals.
func (s *Store) Stats(host string) (*HostStats, error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(uploads), 0), COALESCE(SUM(failures), 0), COALESCE(SUM(bytes), 0)
		FROM transfer_stats WHERE host = ?
	`, host)
	st := &HostStats{Host: host}
	if err := row.Scan(&st.Uploads, &st.Failures, &st.Bytes); err != nil {
		return nil, err
	}
	return st, nil
}

// AllStats returns totals for every host with recorded transfers,
// sorted by host name.
func (s *Store) AllStats() ([]*HostStats, error) {
	rows, err := s.db.Query(`
		SELECT host, SUM(uploads), SUM(failures), SUM(bytes)
		FROM transfer_stats GROUP BY host ORDER BY host
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HostStats
	for rows.Next() {
		st := &HostStats{}
		if err := rows.Scan(&st.Host, &st.Uploads, &st.Failures, &st.Bytes); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
