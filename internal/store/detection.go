package store

import (
	"database/sql"
	"image"
	"time"
)

// Detection is one region a classifier reported for a frame.
type Detection struct {
	ID         int64
	Classifier string
	Frame      int
	Box        image.Rectangle
	CreatedAt  time.Time
}

// DetectionRepository records and queries pipeline detections.
type DetectionRepository struct {
	db *sql.DB
}

func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Insert stores a batch of detections in a single transaction.
func (r *DetectionRepository) Insert(detections []Detection) error {
	if len(detections) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO detections (classifier, frame, x, y, width, height, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range detections {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now()
		}
		if _, err := stmt.Exec(d.Classifier, d.Frame, d.Box.Min.X, d.Box.Min.Y, d.Box.Dx(), d.Box.Dy(), d.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit detections, newest first.
func (r *DetectionRepository) Recent(limit int) ([]Detection, error) {
	rows, err := r.db.Query(
		`SELECT id, classifier, frame, x, y, width, height, created_at
		 FROM detections ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		var x, y, w, h int
		if err := rows.Scan(&d.ID, &d.Classifier, &d.Frame, &x, &y, &w, &h, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Box = image.Rect(x, y, x+w, y+h)
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return detections, nil
}

// CountByClassifier returns the number of stored detections per classifier name.
func (r *DetectionRepository) CountByClassifier() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT classifier, COUNT(*) FROM detections GROUP BY classifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Prune deletes detections recorded before cutoff and returns how many went.
func (r *DetectionRepository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM detections WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
