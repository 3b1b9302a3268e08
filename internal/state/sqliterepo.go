package state

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_ranges (
	user               TEXT NOT NULL,
	start_date         TEXT NOT NULL,
	end_date           TEXT NOT NULL,
	source_file        TEXT NOT NULL DEFAULT '',
	last_analysis_time TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ranges_user ON processed_ranges(user);

CREATE TABLE IF NOT EXISTS forget_punch_usage (
	user  TEXT NOT NULL,
	month TEXT NOT NULL,
	used  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user, month)
);
`

// SQLiteRepository 以 SQLite 为后端的状态存储，可替换档案存储而不影响分析逻辑
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository 打开（必要时初始化）状态数据库
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开状态数据库失败: %w", err)
	}
	// 状态写入为整体读改写，单连接即可避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化状态数据库失败: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Load 读取使用者状态；无记录时返回空状态
func (r *SQLiteRepository) Load(user string) (*UserProcessingState, error) {
	s := NewUserProcessingState()

	rows, err := r.db.Query(`SELECT start_date, end_date, source_file, last_analysis_time
		FROM processed_ranges WHERE user = ? ORDER BY start_date`, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	defer rows.Close()
	for rows.Next() {
		var pr ProcessedRange
		if err := rows.Scan(&pr.StartDate, &pr.EndDate, &pr.SourceFile, &pr.LastAnalysisTime); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
		}
		s.ProcessedRanges = append(s.ProcessedRanges, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	usage, err := r.db.Query(`SELECT month, used FROM forget_punch_usage WHERE user = ?`, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	defer usage.Close()
	for usage.Next() {
		var month string
		var used int
		if err := usage.Scan(&month, &used); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
		}
		s.ForgetPunchUsage[month] = used
	}
	return s, usage.Err()
}

// Save 在单一事务内整体替换使用者状态
func (r *SQLiteRepository) Save(user string, s *UserProcessingState) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM processed_ranges WHERE user = ?`, user); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM forget_punch_usage WHERE user = ?`, user); err != nil {
		return err
	}
	for _, pr := range s.ProcessedRanges {
		if _, err := tx.Exec(`INSERT INTO processed_ranges
			(user, start_date, end_date, source_file, last_analysis_time)
			VALUES (?, ?, ?, ?, ?)`,
			user, pr.StartDate, pr.EndDate, pr.SourceFile, pr.LastAnalysisTime); err != nil {
			return err
		}
	}
	for month, used := range s.ForgetPunchUsage {
		if _, err := tx.Exec(`INSERT INTO forget_punch_usage (user, month, used)
			VALUES (?, ?, ?)`, user, month, used); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete 删除使用者全部状态
func (r *SQLiteRepository) Delete(user string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM processed_ranges WHERE user = ?`, user); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM forget_punch_usage WHERE user = ?`, user); err != nil {
		return err
	}
	return tx.Commit()
}

// Close 关闭数据库连接
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
