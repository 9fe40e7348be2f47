package store

import (
	"database/sql"
	"errors"
	"time"
)

// Classifier is the catalog entry of a saved classifier.
type Classifier struct {
	ID        string
	Name      string
	Variant   string
	Dir       string
	Threshold float64
	Trained   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClassifierRepository provides CRUD operations for classifiers.
type ClassifierRepository struct {
	db *sql.DB
}

func (s *Store) Classifiers() *ClassifierRepository {
	return &ClassifierRepository{db: s.db}
}

// Create inserts a new classifier.
func (r *ClassifierRepository) Create(c *Classifier) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO classifiers (id, name, variant, dir, threshold, trained, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Variant, c.Dir, c.Threshold, c.Trained, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// Upsert inserts c or, if its id exists, updates every mutable column.
func (r *ClassifierRepository) Upsert(c *Classifier) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO classifiers (id, name, variant, dir, threshold, trained, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			dir = excluded.dir,
			threshold = excluded.threshold,
			trained = excluded.trained,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Variant, c.Dir, c.Threshold, c.Trained, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *ClassifierRepository) GetByID(id string) (*Classifier, error) {
	c := &Classifier{}
	err := r.db.QueryRow(
		`SELECT id, name, variant, dir, threshold, trained, created_at, updated_at
		 FROM classifiers WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Name, &c.Variant, &c.Dir, &c.Threshold, &c.Trained, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns all classifiers, oldest first.
func (r *ClassifierRepository) List() ([]*Classifier, error) {
	rows, err := r.db.Query(
		`SELECT id, name, variant, dir, threshold, trained, created_at, updated_at
		 FROM classifiers ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classifiers []*Classifier
	for rows.Next() {
		c := &Classifier{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Variant, &c.Dir, &c.Threshold, &c.Trained, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		classifiers = append(classifiers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return classifiers, nil
}

// Update writes name, dir, threshold and trained state of an existing classifier.
func (r *ClassifierRepository) Update(c *Classifier) error {
	c.UpdatedAt = time.Now()
	result, err := r.db.Exec(
		`UPDATE classifiers SET name = ?, dir = ?, threshold = ?, trained = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Dir, c.Threshold, c.Trained, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// Delete removes a classifier and, through the foreign key, its samples.
func (r *ClassifierRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM classifiers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOne(result)
}
