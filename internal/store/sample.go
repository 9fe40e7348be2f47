package store

import (
	"database/sql"
	"errors"
	"image"
	"time"
)

// Sample is a stored training sample. Image holds the PNG-encoded crop,
// Track the JSON motion track of range samples and Motion the encoded
// motion history snapshot, when one was captured.
type Sample struct {
	ID           string
	ClassifierID string
	Group        string
	Rect         image.Rectangle
	Image        []byte
	Track        []byte
	Motion       []byte
	CreatedAt    time.Time
}

// SampleRepository provides CRUD operations for training samples.
type SampleRepository struct {
	db *sql.DB
}

func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// Create inserts a sample. The owning classifier must exist.
func (r *SampleRepository) Create(smp *Sample) error {
	smp.CreatedAt = time.Now()
	_, err := r.db.Exec(
		`INSERT INTO training_samples (id, classifier_id, grp, x, y, width, height, image, track, motion, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		smp.ID, smp.ClassifierID, smp.Group,
		smp.Rect.Min.X, smp.Rect.Min.Y, smp.Rect.Dx(), smp.Rect.Dy(),
		smp.Image, nullText(smp.Track), nullBytes(smp.Motion), smp.CreatedAt,
	)
	return err
}

func (r *SampleRepository) GetByID(id string) (*Sample, error) {
	row := r.db.QueryRow(
		`SELECT id, classifier_id, grp, x, y, width, height, image, track, motion, created_at
		 FROM training_samples WHERE id = ?`,
		id,
	)
	smp, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return smp, err
}

// ListByClassifier returns the samples of a classifier in insertion order.
func (r *SampleRepository) ListByClassifier(classifierID string) ([]*Sample, error) {
	rows, err := r.db.Query(
		`SELECT id, classifier_id, grp, x, y, width, height, image, track, motion, created_at
		 FROM training_samples
		 WHERE classifier_id = ?
		 ORDER BY created_at, rowid`,
		classifierID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// CountByClassifier returns the number of samples per group.
func (r *SampleRepository) CountByClassifier(classifierID string) (map[string]int, error) {
	rows, err := r.db.Query(
		`SELECT grp, COUNT(*) FROM training_samples WHERE classifier_id = ? GROUP BY grp`,
		classifierID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var grp string
		var n int
		if err := rows.Scan(&grp, &n); err != nil {
			return nil, err
		}
		counts[grp] = n
	}
	return counts, rows.Err()
}

// Move changes the group of a sample.
func (r *SampleRepository) Move(id, group string) error {
	result, err := r.db.Exec(`UPDATE training_samples SET grp = ? WHERE id = ?`, group, id)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

func (r *SampleRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM training_samples WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// DeleteByClassifier removes all samples of a classifier.
func (r *SampleRepository) DeleteByClassifier(classifierID string) error {
	_, err := r.db.Exec(`DELETE FROM training_samples WHERE classifier_id = ?`, classifierID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (*Sample, error) {
	smp := &Sample{}
	var x, y, w, h int
	var track sql.NullString
	var motion []byte
	if err := row.Scan(&smp.ID, &smp.ClassifierID, &smp.Group, &x, &y, &w, &h, &smp.Image, &track, &motion, &smp.CreatedAt); err != nil {
		return nil, err
	}
	smp.Rect = image.Rect(x, y, x+w, y+h)
	if track.Valid {
		smp.Track = []byte(track.String)
	}
	smp.Motion = motion
	return smp, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
